package dto

// UpdateOrderStatusRequest is the body of PUT /admin/orders/:row/status
type UpdateOrderStatusRequest struct {
	Status string `json:"status" binding:"required,max=50"`
}

// UpdateSubmissionRequest is the body of PUT /admin/submissions/:id
type UpdateSubmissionRequest struct {
	Status string `json:"status" binding:"required"`
	Notes  string `json:"notes" binding:"max=2000"`
}

// CreateSubmissionRequest is the body of POST /submissions
type CreateSubmissionRequest struct {
	FormType           string         `json:"form_type" binding:"required,max=100"`
	FormName           string         `json:"form_name" binding:"required,max=200"`
	CustomerName       string         `json:"customer_name" binding:"max=200"`
	CustomerEmail      string         `json:"customer_email" binding:"omitempty,email,max=200"`
	CustomerPhone      string         `json:"customer_phone" binding:"max=50"`
	DeliveryAddress    string         `json:"delivery_address" binding:"max=1000"`
	DeliveryCity       string         `json:"delivery_city" binding:"max=100"`
	DeliveryPostalCode string         `json:"delivery_postal_code" binding:"max=20"`
	OrderDetails       map[string]any `json:"order_details"`
	AdditionalData     map[string]any `json:"additional_data"`
}

// NotificationsResponse reports the notification counter after acknowledgment
type NotificationsResponse struct {
	NewSubmissionsCount int `json:"new_submissions_count"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status   string            `json:"status"`
	Degraded bool              `json:"degraded"`
	Sources  map[string]string `json:"sources"`
}

// OrderStatusResponse echoes an accepted order status change
type OrderStatusResponse struct {
	Row    int    `json:"row"`
	Status string `json:"status"`
}
