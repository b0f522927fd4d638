package sql

import "time"

// LoadStatusLogEntity is the persistence model of one row of the run history.
type LoadStatusLogEntity struct {
	LoadID         int64     `gorm:"column:LoadId;primaryKey;autoIncrement"`
	FirstCTVersion int64     `gorm:"column:Load_First_CT_Version"`
	FromDatetime   time.Time `gorm:"column:Load_From_Datetime"`
	LastCTVersion  int64     `gorm:"column:Load_Last_CT_Version"`
	ToDatetime     time.Time `gorm:"column:Load_To_Datetime"`
	StatusCode     string    `gorm:"column:Load_Status_Code"`
	TypeCode       string    `gorm:"column:Load_Type_Code"`
}

// TableName implements the gorm Tabler interface.
func (LoadStatusLogEntity) TableName() string {
	return "LoadStatusLog"
}

const (
	colLoadID     = "LoadId"
	colStatusCode = "Load_Status_Code"
	colTypeCode   = "Load_Type_Code"
	colTo         = "Load_To_Datetime"
)
