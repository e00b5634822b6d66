package domain

const (
	defaultBoardTitle       = "Sales Pipeline"
	defaultBoardDescription = "Main sales CRM board"
)

type defaultColumn struct {
	title string
	color string
}

// defaultColumns seeds a new principal's first board, in position order.
var defaultColumns = []defaultColumn{
	{title: "Prospects", color: "#EF4444"},
	{title: "Contact Made", color: "#F59E0B"},
	{title: "Proposal Sent", color: "#3B82F6"},
	{title: "Closed Won", color: "#10B981"},
}
