package api

import (
	"time"

	"github.com/OCR4all/ocr4all-app-msa/internal/job"
	"github.com/OCR4all/ocr4all-app-msa/internal/storage"
)

func toJobResponse(j *job.Job) JobResponse {
	snap := j.Snapshot()
	return JobResponse{
		ID:          snap.ID,
		State:       snap.State.String(),
		Created:     snap.Created,
		Start:       optTime(snap.Start),
		End:         optTime(snap.End),
		Pool:        string(snap.Pool),
		Key:         snap.Key,
		Description: snap.Description,
		Message:     snap.Message,
	}
}

func toJobResponses(jobs []*job.Job) []JobResponse {
	out := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	return out
}

func toInformationResponse(info job.Information) InformationResponse {
	pools := make([]PoolResponse, 0, len(info.Pools))
	for _, p := range info.Pools {
		pools = append(pools, PoolResponse{
			Name:     p.Name,
			Prefix:   p.ThreadPrefix,
			Active:   p.Active,
			CoreSize: p.CoreSize,
		})
	}
	return InformationResponse{Start: info.Start, Pools: pools}
}

func toHistoryRows(entries []storage.Entry) []HistoryRow {
	out := make([]HistoryRow, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryRow{
			ID:      e.ID,
			JobID:   e.JobID,
			State:   e.State,
			Key:     e.Key,
			Message: e.Message,
			Time:    e.At,
		})
	}
	return out
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
