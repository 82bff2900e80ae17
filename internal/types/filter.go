package types

// Default pagination values for list queries
const (
	FilterDefaultLimit  = 50
	FilterMaxLimit      = 1000
	FilterDefaultOffset = 0
)

// QueryFilter carries common pagination options for list endpoints
type QueryFilter struct {
	Limit  *int `json:"limit,omitempty" form:"limit" validate:"omitempty,min=1,max=1000"`
	Offset *int `json:"offset,omitempty" form:"offset" validate:"omitempty,min=0"`
}

// NewDefaultQueryFilter returns a filter with the default limit and offset
func NewDefaultQueryFilter() *QueryFilter {
	limit := FilterDefaultLimit
	offset := FilterDefaultOffset
	return &QueryFilter{
		Limit:  &limit,
		Offset: &offset,
	}
}

// GetLimit returns the limit value or the default if not set
func (f *QueryFilter) GetLimit() int {
	if f == nil || f.Limit == nil {
		return FilterDefaultLimit
	}
	if *f.Limit > FilterMaxLimit {
		return FilterMaxLimit
	}
	return *f.Limit
}

// GetOffset returns the offset value or the default if not set
func (f *QueryFilter) GetOffset() int {
	if f == nil || f.Offset == nil {
		return FilterDefaultOffset
	}
	return *f.Offset
}
