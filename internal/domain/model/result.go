package model

import "time"

type Result struct {
	ID           int64     `json:"id"`
	SubmissionID int64     `json:"submissionId"`
	Score        float64   `json:"score"`
	TotalTests   int       `json:"totalTests"`
	PassedTests  int       `json:"passedTests"`
	Feedback     string    `json:"feedback"`
	CreatedAt    time.Time `json:"createdAt"`
}
