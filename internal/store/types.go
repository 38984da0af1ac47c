package store

// Status values for a StatusRecord.
const (
	StatusPending  = "pending"
	StatusRetrying = "retrying"
	StatusSuccess  = "success"
	StatusError    = "error"
)

// StatusRecord is the persisted ledger state for one (entity, slot, date).
type StatusRecord struct {
	ID          string `json:"id"`
	EntityID    string `json:"entity_id"`
	Slot        string `json:"slot"`
	DrawDate    string `json:"draw_date"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	LastError   string `json:"last_error"`
	SourceUsed  string `json:"source_used"`
	NextRetryAt *int64 `json:"next_retry_at,omitempty"`
	ResultID    string `json:"result_id"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// PrizeEntry is one prize line of a draw result.
type PrizeEntry struct {
	Position int    `json:"position"`
	Value    string `json:"value"`
	Group    string `json:"group"`
	Label    string `json:"label"`
}

// ResultRecord is the canonical result for one (entity, date, slot).
// Write-once: the unique index rejects every writer after the first.
type ResultRecord struct {
	ID        string       `json:"id"`
	EntityID  string       `json:"entity_id"`
	DrawDate  string       `json:"draw_date"`
	Slot      string       `json:"slot"`
	Source    string       `json:"source"`
	Prizes    []PrizeEntry `json:"prizes"`
	CreatedAt int64        `json:"created_at"`
}

// ProxyEntry is one row of the proxy registry.
// Score is a decaying reputation from real usage; Alive is the last TCP
// probe outcome. The two are independent signals.
type ProxyEntry struct {
	ID           string `json:"id"`
	Protocol     string `json:"protocol"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	Origin       string `json:"origin"`
	Enabled      bool   `json:"enabled"`
	Alive        bool   `json:"alive"`
	LatencyMs    int64  `json:"latency_ms"`
	Score        int    `json:"score"`
	SuccessCount int    `json:"success_count"`
	ErrorCount   int    `json:"error_count"`
	LastError    string `json:"last_error"`
	LastUsedAt   *int64 `json:"last_used_at,omitempty"`
	LastTestedAt *int64 `json:"last_tested_at,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// RunLogEntry is one append-only record of a full scraper sweep.
type RunLogEntry struct {
	ID            string `json:"id"`
	RunType       string `json:"run_type"`
	URLsProcessed int    `json:"urls_processed"`
	ResultsFound  int    `json:"results_found"`
	Errors        int    `json:"errors"`
	DurationMs    int64  `json:"duration_ms"`
	Detail        string `json:"detail"`
	CreatedAt     int64  `json:"created_at"`
}
