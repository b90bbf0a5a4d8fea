package models

// Schedule triggers a recurring scan of a fixed target on a cron expression.
type Schedule struct {
	ID             int64  `json:"id"              db:"id"`
	Name           string `json:"name"            db:"name"`
	Expr           string `json:"expr"            db:"expr"`
	RepositoryPath string `json:"repository_path" db:"repository_path"`
	CommitRef      string `json:"commit_ref"      db:"commit_ref"`
	Branch         string `json:"branch"          db:"branch"`
	Profile        string `json:"profile"         db:"profile"`
	Enabled        bool   `json:"enabled"         db:"enabled"`

	LastRunAt string `json:"last_run_at,omitempty" db:"last_run_at"`
	CreatedAt string `json:"created_at"            db:"created_at"`
	UpdatedAt string `json:"updated_at"            db:"updated_at"`
}
