package ingest

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// PollScheduler drives periodic polls of the vendor API, one cron entry per
// device.
type PollScheduler struct {
	cron     *cron.Cron
	enqueuer *Enqueuer

	mu      sync.Mutex
	entries map[string]cron.EntryID

	log *logrus.Entry
}

func NewPollScheduler(enqueuer *Enqueuer) *PollScheduler {
	return &PollScheduler{
		cron:     cron.New(),
		enqueuer: enqueuer,
		entries:  make(map[string]cron.EntryID),
		log:      logrus.WithField("component", "poll-scheduler"),
	}
}

// Start begins firing scheduled polls.
func (s *PollScheduler) Start() {
	s.cron.Start()
}

// Stop waits for in-flight jobs and halts the scheduler.
func (s *PollScheduler) Stop() {
	<-s.cron.Stop().Done()
}

// SchedulePolls registers one recurring poll per device. Rescheduling a
// device replaces its existing entry.
func (s *PollScheduler) SchedulePolls(deviceSNs []string, interval time.Duration) error {
	for _, sn := range deviceSNs {
		if err := s.scheduleDevice(sn, interval); err != nil {
			return err
		}
	}
	s.log.Infof("scheduled polls for %d devices every %s", len(deviceSNs), interval)
	return nil
}

func (s *PollScheduler) scheduleDevice(deviceSN string, interval time.Duration) error {
	s.RemoveDevice(deviceSN)

	sn := deviceSN
	entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if err := s.enqueuer.EnqueuePoll(sn); err != nil {
			s.log.WithField("device", sn).Errorf("enqueue poll: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule polls for %s: %w", deviceSN, err)
	}

	s.mu.Lock()
	s.entries[deviceSN] = entryID
	s.mu.Unlock()
	return nil
}

// RemoveDevice stops polling one device.
func (s *PollScheduler) RemoveDevice(deviceSN string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[deviceSN]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, deviceSN)
	}
}
