package model

// Analytics is the teacher dashboard payload.
type Analytics struct {
	TotalStudents     int                  `json:"totalStudents"`
	TotalAssignments  int                  `json:"totalAssignments"`
	TotalSubmissions  int                  `json:"totalSubmissions"`
	CompletedCount    int                  `json:"completedSubmissions"`
	FailedCount       int                  `json:"failedSubmissions"`
	PendingCount      int                  `json:"pendingSubmissions"`
	AverageScore      float64              `json:"averageScore"`
	MedianScore       float64              `json:"medianScore"`
	P90Score          float64              `json:"p90Score"`
	CompletionRate    float64              `json:"completionRate"`
	AssignmentStats   []AssignmentStats    `json:"assignmentStats"`
	ScoreDistribution []ScoreBucket        `json:"scoreDistribution"`
	Trend             []TrendPoint         `json:"trend"`
	Students          []StudentPerformance `json:"students"`
}

type AssignmentStats struct {
	AssignmentID int64   `json:"assignmentId"`
	Slug         string  `json:"slug"`
	Title        string  `json:"title"`
	Submissions  int     `json:"submissions"`
	Completed    int     `json:"completed"`
	Students     int     `json:"students"`
	AverageScore float64 `json:"avgScore"`
}

type ScoreBucket struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}

type TrendPoint struct {
	Date        string `json:"date"`
	Submissions int    `json:"submissions"`
	Completed   int    `json:"completed"`
}

type StudentPerformance struct {
	UserID       int64   `json:"userId"`
	Email        string  `json:"email"`
	Submissions  int     `json:"submissions"`
	Completed    int     `json:"completed"`
	AverageScore float64 `json:"avgScore"`
	BestScore    float64 `json:"bestScore"`
}
