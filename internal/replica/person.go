package replica

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mehmetymw/recordsync/internal/types"
	"github.com/mehmetymw/recordsync/internal/util"
)

// CRM column names read from the person entity.
const (
	ColumnContactID    = "contactid"
	ColumnTrn          = "dfeta_trn"
	ColumnFirstName    = "firstname"
	ColumnMiddleName   = "middlename"
	ColumnLastName     = "lastname"
	ColumnBirthDate    = "birthdate"
	ColumnEmailAddress = "emailaddress1"
	ColumnNINumber     = "dfeta_ninumber"
)

// PersonRecord is one replicated person row. Only these columns are owned by
// the replica; everything else on persons is left alone.
type PersonRecord struct {
	PersonID                uuid.UUID
	Trn                     *string
	FirstName               string
	MiddleName              *string
	LastName                string
	DateOfBirth             *time.Time
	EmailAddress            *string
	NationalInsuranceNumber *string
}

func (r PersonRecord) validate() error {
	switch {
	case r.PersonID == uuid.Nil:
		return types.IncompleteRecordError(r.PersonID.String(), "PersonID")
	case r.FirstName == "":
		return types.IncompleteRecordError(r.PersonID.String(), "FirstName")
	case r.LastName == "":
		return types.IncompleteRecordError(r.PersonID.String(), "LastName")
	}
	return nil
}

// RecordFromItem maps an upserted contact into a PersonRecord. The id falls
// back to the item id when contactid is not among the requested columns.
// Missing required fields are left empty for SyncBatch to reject.
func RecordFromItem(item types.ChangedItem) (PersonRecord, error) {
	rawID, ok := util.String(item.Attributes, ColumnContactID)
	if !ok {
		rawID = item.ID
	}
	var rec PersonRecord
	if rawID != "" {
		id, err := uuid.Parse(rawID)
		if err != nil {
			return PersonRecord{}, fmt.Errorf("contact %q: invalid id: %w", item.ID, err)
		}
		rec.PersonID = id
	}

	rec.Trn = util.OptionalString(item.Attributes, ColumnTrn)
	rec.FirstName, _ = util.String(item.Attributes, ColumnFirstName)
	rec.MiddleName = util.OptionalString(item.Attributes, ColumnMiddleName)
	rec.LastName, _ = util.String(item.Attributes, ColumnLastName)
	rec.EmailAddress = util.OptionalString(item.Attributes, ColumnEmailAddress)
	rec.NationalInsuranceNumber = util.OptionalString(item.Attributes, ColumnNINumber)

	dob, ok, err := util.Time(item.Attributes, ColumnBirthDate)
	if err != nil {
		return PersonRecord{}, fmt.Errorf("contact %s: %w", rawID, err)
	}
	if ok {
		d := time.Date(dob.Year(), dob.Month(), dob.Day(), 0, 0, 0, 0, time.UTC)
		rec.DateOfBirth = &d
	}
	return rec, nil
}
