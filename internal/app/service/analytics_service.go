package service

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"sort"
	"strconv"
	"time"

	"aca_backend/internal/common"
	"aca_backend/internal/domain/model"
	"aca_backend/internal/domain/repository"
)

// TrendDays is the width of the daily submission trend window.
const TrendDays = 7

var scoreBuckets = []struct {
	label string
	min   int
}{
	{"90-100", 90},
	{"80-89", 80},
	{"70-79", 70},
	{"60-69", 60},
	{"<60", math.MinInt},
}

// ExportColumns is the header row of the results CSV export.
var ExportColumns = []string{
	"submissionId", "userId", "email", "assignmentId", "assignmentSlug", "filename",
	"status", "createdAt", "score", "totalTests", "passedTests", "feedback",
}

type AnalyticsService struct {
	store repository.Store
	now   func() time.Time
}

func NewAnalyticsService(store repository.Store) *AnalyticsService {
	return &AnalyticsService{store: store, now: time.Now}
}

type analyticsData struct {
	users       []model.User
	assignments []model.Assignment
	submissions []model.Submission
	first       map[int64]model.Result
}

func (s *AnalyticsService) load(ctx context.Context) (*analyticsData, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, common.Errorf("failed to list users: %w", err)
	}
	assignments, err := s.store.ListAssignments(ctx)
	if err != nil {
		return nil, common.Errorf("failed to list assignments: %w", err)
	}
	submissions, err := s.store.ListSubmissions(ctx, model.SubmissionFilter{})
	if err != nil {
		return nil, common.Errorf("failed to list submissions: %w", err)
	}
	results, err := s.store.ListResults(ctx)
	if err != nil {
		return nil, common.Errorf("failed to list results: %w", err)
	}
	return &analyticsData{users: users, assignments: assignments, submissions: submissions, first: FirstResults(results)}, nil
}

// GetAnalytics aggregates the dashboard numbers. Scores only count for
// completed submissions that have a result.
func (s *AnalyticsService) GetAnalytics(ctx context.Context) (*model.Analytics, error) {
	data, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return ComputeAnalytics(data.users, data.assignments, data.submissions, data.first, s.now()), nil
}

func ComputeAnalytics(users []model.User, assignments []model.Assignment, submissions []model.Submission, first map[int64]model.Result, now time.Time) *model.Analytics {
	a := &model.Analytics{
		TotalAssignments:  len(assignments),
		TotalSubmissions:  len(submissions),
		AssignmentStats:   []model.AssignmentStats{},
		ScoreDistribution: make([]model.ScoreBucket, len(scoreBuckets)),
		Trend:             make([]model.TrendPoint, TrendDays),
		Students:          []model.StudentPerformance{},
	}
	for i, b := range scoreBuckets {
		a.ScoreDistribution[i].Range = b.label
	}

	today := now.UTC().Truncate(24 * time.Hour)
	trendIndex := make(map[string]int, TrendDays)
	for i := 0; i < TrendDays; i++ {
		date := today.AddDate(0, 0, i-(TrendDays-1)).Format("2006-01-02")
		a.Trend[i].Date = date
		trendIndex[date] = i
	}

	type acc struct {
		submissions, completed int
		sum, best              float64
		scored                 int
		students               map[int64]struct{}
	}
	byAssignment := make(map[int64]*acc, len(assignments))
	for _, as := range assignments {
		byAssignment[as.ID] = &acc{students: map[int64]struct{}{}}
	}
	byStudent := make(map[int64]*acc)
	var scores []float64

	for i := range submissions {
		sub := &submissions[i]
		switch sub.Status {
		case model.StatusCompleted:
			a.CompletedCount++
		case model.StatusFailed:
			a.FailedCount++
		default:
			a.PendingCount++
		}

		if idx, ok := trendIndex[sub.CreatedAt.UTC().Format("2006-01-02")]; ok {
			a.Trend[idx].Submissions++
			if sub.Status == model.StatusCompleted {
				a.Trend[idx].Completed++
			}
		}

		as, ok := byAssignment[sub.AssignmentID]
		if !ok {
			as = &acc{students: map[int64]struct{}{}}
			byAssignment[sub.AssignmentID] = as
		}
		st, ok := byStudent[sub.UserID]
		if !ok {
			st = &acc{}
			byStudent[sub.UserID] = st
		}
		as.submissions++
		as.students[sub.UserID] = struct{}{}
		st.submissions++

		if sub.Status != model.StatusCompleted {
			continue
		}
		as.completed++
		st.completed++
		r, ok := first[sub.ID]
		if !ok {
			continue
		}
		scores = append(scores, r.Score)
		as.sum += r.Score
		as.scored++
		st.sum += r.Score
		st.scored++
		if r.Score > st.best {
			st.best = r.Score
		}
		pct := int(math.Round(r.Score * 100))
		for j, b := range scoreBuckets {
			if pct >= b.min {
				a.ScoreDistribution[j].Count++
				break
			}
		}
	}

	a.AverageScore = mean(scores)
	sort.Float64s(scores)
	a.MedianScore = median(scores)
	a.P90Score = percentile(scores, 90)
	if a.TotalSubmissions > 0 {
		a.CompletionRate = float64(a.CompletedCount) / float64(a.TotalSubmissions)
	}

	for _, as := range assignments {
		agg := byAssignment[as.ID]
		a.AssignmentStats = append(a.AssignmentStats, model.AssignmentStats{
			AssignmentID: as.ID,
			Slug:         as.Slug,
			Title:        as.Title,
			Submissions:  agg.submissions,
			Completed:    agg.completed,
			Students:     len(agg.students),
			AverageScore: ratio(agg.sum, agg.scored),
		})
	}

	for _, u := range users {
		if u.Role != model.RoleStudent {
			continue
		}
		a.TotalStudents++
		perf := model.StudentPerformance{UserID: u.ID, Email: u.Email}
		if st, ok := byStudent[u.ID]; ok {
			perf.Submissions = st.submissions
			perf.Completed = st.completed
			perf.AverageScore = ratio(st.sum, st.scored)
			perf.BestScore = st.best
		}
		a.Students = append(a.Students, perf)
	}
	return a
}

func ratio(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return ratio(sum, len(values))
}

// median expects sorted input.
func median(sorted []float64) float64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case n%2 == 1:
		return sorted[n/2]
	default:
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
}

// percentile uses the nearest-rank method on sorted input.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// ExportResults writes one CSV row per submission with its first result.
func (s *AnalyticsService) ExportResults(ctx context.Context, w io.Writer) error {
	data, err := s.load(ctx)
	if err != nil {
		return err
	}

	emails := make(map[int64]string, len(data.users))
	for _, u := range data.users {
		emails[u.ID] = u.Email
	}
	slugs := make(map[int64]string, len(data.assignments))
	for _, as := range data.assignments {
		slugs[as.ID] = as.Slug
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(ExportColumns); err != nil {
		return common.Errorf("failed to write csv header: %w", err)
	}
	for _, sub := range data.submissions {
		row := []string{
			strconv.FormatInt(sub.ID, 10),
			strconv.FormatInt(sub.UserID, 10),
			emails[sub.UserID],
			strconv.FormatInt(sub.AssignmentID, 10),
			slugs[sub.AssignmentID],
			sub.Filename,
			string(sub.Status),
			sub.CreatedAt.UTC().Format(time.RFC3339),
			"", "", "", "",
		}
		if r, ok := data.first[sub.ID]; ok {
			row[8] = strconv.FormatFloat(r.Score, 'f', -1, 64)
			row[9] = strconv.Itoa(r.TotalTests)
			row[10] = strconv.Itoa(r.PassedTests)
			row[11] = r.Feedback
		}
		if err := cw.Write(row); err != nil {
			return common.Errorf("failed to write csv row for submission %d: %w", sub.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return common.Errorf("failed to flush csv export: %w", err)
	}
	return nil
}
