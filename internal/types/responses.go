package types

// OrderListResponse is the paginated response for GET /orders.
// Total reflects all rows at query time, not the size of the page.
type OrderListResponse struct {
	Total  int64   `json:"total"`
	Orders []Order `json:"orders"`
	Limit  int     `json:"limit"`
	Skip   int     `json:"skip"`
}
