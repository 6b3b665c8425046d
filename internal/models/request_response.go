package models

// Request models
type SignUpRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type DeductRequest struct {
	Currency    Currency `json:"currency" binding:"required,oneof=general health_score"`
	Amount      int64    `json:"amount" binding:"required,gt=0"`
	Description string   `json:"description"`
	FeatureType string   `json:"featureType"`
}

type AddCreditsRequest struct {
	Currency    Currency `json:"currency" binding:"required,oneof=general health_score"`
	Amount      int64    `json:"amount" binding:"required,gt=0"`
	Description string   `json:"description"`
	FeatureType string   `json:"featureType"`
}

type EnqueuePackageRequest struct {
	ReportID         string   `json:"reportId" binding:"required"`
	PackageName      string   `json:"packageName" binding:"required"`
	DocumentIDs      []string `json:"documentIds"`
	EstimatedMinutes int      `json:"estimatedMinutes" binding:"omitempty,gt=0"`
	CostCredits      int64    `json:"costCredits" binding:"omitempty,gt=0"`
}

type TransitionStatusRequest struct {
	Status QueueStatus `json:"status" binding:"required,oneof=queued processing completed failed"`
}

type CreateNotificationRequest struct {
	Title   string           `json:"title" binding:"required"`
	Message string           `json:"message" binding:"required"`
	Kind    NotificationKind `json:"kind" binding:"required,oneof=info success warning error"`
}

// Response models
type AuthResponse struct {
	Status    string `json:"status"`
	UserID    string `json:"userId,omitempty"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	Token     string `json:"token,omitempty"`
	ExpiresIn int    `json:"expiresIn,omitempty"`
}

type BalanceResponse struct {
	Status             string `json:"status"`
	OwnerID            string `json:"ownerId"`
	GeneralCredits     int64  `json:"generalCredits"`
	HealthScoreCredits int64  `json:"healthScoreCredits"`
}

type DeductResponse struct {
	Status     string   `json:"status"`
	Currency   Currency `json:"currency"`
	NewBalance int64    `json:"newBalance"`
}

type AddCreditsResponse struct {
	Status     string   `json:"status"`
	Currency   Currency `json:"currency"`
	NewBalance int64    `json:"newBalance"`
}

type TransactionsResponse struct {
	Status       string              `json:"status"`
	Transactions []CreditTransaction `json:"transactions"`
	HasMore      bool                `json:"hasMore"`
}

// ActiveQueueEntry pairs a queue entry with its display countdown
type ActiveQueueEntry struct {
	QueueEntry
	RemainingSeconds int64 `json:"remainingSeconds"`
}

type EnqueueResponse struct {
	Status string     `json:"status"`
	Entry  QueueEntry `json:"entry"`
}

type ActiveQueueResponse struct {
	Status  string             `json:"status"`
	Entries []ActiveQueueEntry `json:"entries"`
}

type TransitionResponse struct {
	Status string     `json:"status"`
	Entry  QueueEntry `json:"entry"`
}

type PurgeResponse struct {
	Status string `json:"status"`
	Purged int64  `json:"purged"`
}

type NotificationsResponse struct {
	Status        string         `json:"status"`
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unreadCount"`
}

type NotificationResponse struct {
	Status       string        `json:"status"`
	Notification *Notification `json:"notification,omitempty"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
