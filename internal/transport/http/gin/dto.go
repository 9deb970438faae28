package httpgin

type CreateTableRequest struct {
	BranchID string `json:"branch_id" binding:"required,uuid"`
	Number   string `json:"number" binding:"required"`
	Area     string `json:"area"`
}

type CreateTableResponse struct {
	TableID   string `json:"table_id"`
	Number    string `json:"number"`
	Area      string `json:"area"`
	QRVersion int    `json:"qr_version"`
	Token     string `json:"token"`
	MenuURL   string `json:"menu_url"`
}

type QRResponse struct {
	TableID   string `json:"table_id"`
	Token     string `json:"token"`
	MenuURL   string `json:"menu_url"`
	QRVersion int    `json:"qr_version"`
}

type SessionResponse struct {
	VenueID     string `json:"venue_id"`
	VenueName   string `json:"venue_name"`
	BranchID    string `json:"branch_id"`
	TableID     string `json:"table_id"`
	TableNumber string `json:"table_number"`
	Area        string `json:"area"`
	QRVersion   int    `json:"qr_version"`
}

type OrderItemInput struct {
	MenuItemID string   `json:"menu_item_id" binding:"required,uuid"`
	Name       string   `json:"name" binding:"required"`
	Price      string   `json:"price" binding:"required"`
	Quantity   int      `json:"quantity" binding:"required,gt=0"`
	Modifiers  []string `json:"modifiers"`
}

type PlaceOrderRequest struct {
	Token string           `json:"token" binding:"required"`
	Items []OrderItemInput `json:"items" binding:"required,min=1,dive"`
	Notes string           `json:"notes"`
	Tip   string           `json:"tip"`
}

type AdvanceOrderRequest struct {
	Status string `json:"status" binding:"required"`
}

type CheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
