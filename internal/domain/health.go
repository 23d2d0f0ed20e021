package domain

// ============================================================
// Health API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// LedgerMetrics is returned by GET /v1/metrics/ledger.
type LedgerMetrics struct {
	Approved            int64   `json:"approved"`
	Rejected            int64   `json:"rejected"`
	Spent               int64   `json:"spent"`
	Deducted            int64   `json:"deducted"`
	Adjusted            int64   `json:"adjusted"`
	InsufficientPoints  int64   `json:"insufficientPoints"`
	PersistenceFailures int64   `json:"persistenceFailures"`
	SettingsWrites      int64   `json:"settingsWrites"`
	CacheHitRate        float64 `json:"cacheHitRate"`
	TotalPoints         int64   `json:"totalPoints"`
	PendingTasks        int64   `json:"pendingTasks"`
}

// ============================================================
// Generic API Response wrappers
// ============================================================

// ListResponse wraps paginated list results.
type ListResponse[T any] struct {
	Data     []T  `json:"data"`
	Total    int  `json:"total"`
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasMore  bool `json:"has_more"`
}

// SuccessResponse wraps a successful single-entity response.
type SuccessResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// ============================================================
// Parent session
// ============================================================

// ParentLoginRequest is the body of POST /v1/parent/login.
type ParentLoginRequest struct {
	Pin string `json:"pin"`
}

// ParentSession is returned after a successful PIN check.
type ParentSession struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// ResetRequest is the body of POST /v1/reset.
type ResetRequest struct {
	Password string `json:"password"`
}

// SyntheticRequest is the body of POST /v1/transactions/synthetic.
type SyntheticRequest struct {
	Count int `json:"count"`
}
