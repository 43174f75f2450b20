package orders

// Status is an open string domain. Pending and Completed drive checkout;
// anything else is a downstream label set by staff (e.g. "served").
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

type StatusKind int

const (
	KindOther StatusKind = iota
	KindPending
	KindCompleted
)

func (s Status) Kind() StatusKind {
	switch s {
	case StatusPending:
		return KindPending
	case StatusCompleted:
		return KindCompleted
	default:
		return KindOther
	}
}

func (k StatusKind) String() string {
	switch k {
	case KindPending:
		return "pending"
	case KindCompleted:
		return "completed"
	default:
		return "other"
	}
}
