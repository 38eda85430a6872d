package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/clkernel/internal/inspect"
	"github.com/cwbudde/clkernel/internal/store"
)

// runJob builds and inspects the job's source. The report is kept on the
// job and saved to the store when one is configured.
func (s *Server) runJob(ctx context.Context, jobID string) error {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	events := s.openEventLog(jobID)
	if events != nil {
		defer events.Close()
	}
	emit := func(e JobEvent) {
		e.JobID, e.Timestamp = jobID, time.Now()
		s.jobManager.broadcaster.Broadcast(e)
		if events != nil {
			if err := events.Write(store.Event{Time: e.Timestamp, State: string(e.State), Message: e.Message, ReportID: e.ReportID}); err != nil {
				slog.Warn("Failed to write job event", "job_id", jobID, "error", err)
			}
		}
	}

	if err := s.jobManager.UpdateJob(jobID, func(j *Job) { j.State = StateRunning }); err != nil {
		return err
	}
	emit(JobEvent{State: StateRunning, Message: "building " + job.Config.Name})
	slog.Info("Starting job", "job_id", jobID, "name", job.Config.Name)

	if ctx.Err() != nil {
		markJobCancelled(s.jobManager, jobID, emit)
		return ctx.Err()
	}

	devices, err := s.selectDevices(job.Config.Devices)
	if err != nil {
		markJobFailed(s.jobManager, jobID, err, "", emit)
		return err
	}

	start := time.Now()
	report, err := inspect.InspectSource(s.rt, s.clctx, devices, job.Config.Source, job.Config.Options, inspect.Options{
		Name:       job.Config.Name,
		GlobalSize: job.Config.GlobalSize,
	})
	if err != nil {
		var bf *inspect.BuildFailedError
		buildLog := ""
		if errors.As(err, &bf) {
			buildLog = bf.Log
		}
		markJobFailed(s.jobManager, jobID, err, buildLog, emit)
		return err
	}

	if ctx.Err() != nil {
		markJobCancelled(s.jobManager, jobID, emit)
		return ctx.Err()
	}

	if s.store != nil {
		if err := s.store.SaveReport(report); err != nil {
			err = fmt.Errorf("failed to save report: %w", err)
			markJobFailed(s.jobManager, jobID, err, "", emit)
			return err
		}
	}

	endTime := time.Now()
	if err := s.jobManager.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.Report = report
		j.ReportID = report.ID
		j.Kernels = len(report.Kernels)
		j.BuildLog = report.Program.BuildLog
		j.EndTime = &endTime
	}); err != nil {
		return err
	}

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", time.Since(start),
		"kernels", len(report.Kernels),
		"report_id", report.ID,
	)
	emit(JobEvent{State: StateCompleted, ReportID: report.ID, Kernels: len(report.Kernels)})
	return nil
}

func (s *Server) openEventLog(jobID string) *store.EventWriter {
	if s.store == nil {
		return nil
	}
	w, err := store.NewEventWriter(s.store.BaseDir(), jobID)
	if err != nil {
		slog.Warn("Failed to open job event log", "job_id", jobID, "error", err)
		return nil
	}
	return w
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error, buildLog string, emit func(JobEvent)) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.BuildLog = buildLog
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
	emit(JobEvent{State: StateFailed, Message: err.Error()})
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string, emit func(JobEvent)) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
	emit(JobEvent{State: StateCancelled})
}
