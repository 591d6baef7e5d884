package models

// EncodingID names the encoding a wish asks for.
type EncodingID struct {
	Method  string `json:"method"`
	Project string `json:"project"`
}

// EncodingWish asks the data owner to re-encode one record of an escalated
// pair. Both wishes of a pair share OrderID.
type EncodingWish struct {
	ID             string     `json:"id,omitempty"`
	ProjectID      string     `json:"project_id"`
	EncodingID     EncodingID `json:"encoding_id"`
	TargetRecordID RecordID   `json:"target_record_id"`
	RecordSecret   string     `json:"record_secret"`
	OrderID        int64      `json:"order_id"`
}
