// Package export renders a final session into a tabular report. Formatting
// only: callers capture the report before tearing the session down.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"quizroom-service/internal/domain"
)

// Report builds the result rows for a finished session: one row per ranked
// participant with per-question time and points columns.
func Report(snapshot domain.Snapshot, answers map[string][]domain.Answer) [][]string {
	header := []string{"rank", "name", "email", "score"}
	for i := 0; i < snapshot.TotalQuestions; i++ {
		header = append(header,
			fmt.Sprintf("q%d_time_ms", i+1),
			fmt.Sprintf("q%d_points", i+1),
		)
	}

	emails := make(map[string]string, len(snapshot.Participants))
	for _, p := range snapshot.Participants {
		emails[p.ID] = p.Email
	}

	rows := [][]string{header}
	for _, entry := range snapshot.Leaderboard {
		row := []string{
			strconv.Itoa(entry.Rank),
			entry.Name,
			emails[entry.ParticipantID],
			formatPoints(entry.Score),
		}

		byIndex := make(map[int]domain.Answer, len(answers[entry.ParticipantID]))
		for _, a := range answers[entry.ParticipantID] {
			byIndex[a.QuestionIndex] = a
		}
		for i := 0; i < snapshot.TotalQuestions; i++ {
			if a, ok := byIndex[i]; ok {
				row = append(row, strconv.FormatInt(a.TimeTakenMs, 10), formatPoints(a.PointsEarned))
			} else {
				row = append(row, "", "")
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteCSV streams the report to w.
func WriteCSV(w io.Writer, snapshot domain.Snapshot, answers map[string][]domain.Answer) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(Report(snapshot, answers)); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func formatPoints(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
