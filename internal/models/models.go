package models

import "time"

// RevisionID identifies one revision of one page. A RevID of 0 means
// "no revision" and is never archived.
type RevisionID struct {
	PageID uint64
	RevID  uint64
}

// RevisionMetadata is the YAML document stored next to each revision's
// content. Fields are declared in key order so documents match archives
// written by emitters that sort keys.
type RevisionMetadata struct {
	Comment   string `yaml:"comment" json:"comment"`
	PageID    uint64 `yaml:"pageid" json:"pageid"`
	ParentID  uint64 `yaml:"parentid" json:"parentid"`
	RevID     uint64 `yaml:"revid" json:"revid"`
	Timestamp string `yaml:"timestamp" json:"timestamp"`
	Title     string `yaml:"title" json:"title"`
	URL       string `yaml:"url" json:"url"`
	User      string `yaml:"user" json:"user"`
}

// RunStatus tracks the outcome of archival passes for one wiki
type RunStatus struct {
	Wiki              string    `json:"wiki" dynamodbav:"wiki"`
	LastSuccessfulRun time.Time `json:"last_successful_run" dynamodbav:"last_successful_run"`
	LastAttempt       time.Time `json:"last_attempt" dynamodbav:"last_attempt"`
	Status            string    `json:"status" dynamodbav:"status"` // "success", "failure", "running"
	ErrorMessage      string    `json:"error_message,omitempty" dynamodbav:"error_message,omitempty"`
	PagesSeen         int       `json:"pages_seen" dynamodbav:"pages_seen"`
	RevisionsArchived int       `json:"revisions_archived" dynamodbav:"revisions_archived"`
}

// Run status values
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailure = "failure"
)
