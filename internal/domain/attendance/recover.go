package attendance

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// RecoverFromThreads rebuilds spawn state after a restart by scanning the
// active threads in the attendance channel. Titles give the event and
// occurrence; the thread history gives back the verified members (the
// bot's own "verified by" announcements) and the still-unanswered
// check-ins, which become pending again. It returns how many spawns were
// restored.
func (s *Service) RecoverFromThreads(ctx context.Context) (int, error) {
	threads, err := s.client.ListActiveThreads(ctx, s.cfg.GuildID, s.cfg.ChannelID)
	if err != nil {
		return 0, fmt.Errorf("listing attendance threads: %w", err)
	}
	confirmThreads, err := s.client.ListActiveThreads(ctx, s.cfg.GuildID, s.cfg.ConfirmChannelID)
	if err != nil {
		s.logger.Warn("listing confirm threads", "error", err)
	}
	confirmByName := make(map[string]string, len(confirmThreads))
	for _, th := range confirmThreads {
		confirmByName[th.Name] = th.ID
	}

	restored := 0
	for _, th := range threads {
		eventName, stamp, ok := parseTitle(th.Name)
		if !ok {
			continue
		}
		def, err := s.catalog.Resolve(eventName)
		if err != nil {
			s.logger.Warn("recovered thread names unknown event", "thread", th.ID, "title", th.Name)
			continue
		}

		msgs, err := s.client.FetchMessages(ctx, th.ID, 100)
		if err != nil {
			s.logger.Error("fetching thread history", "thread", th.ID, "error", err)
			continue
		}

		sp := &Spawn{
			Event:           def.Name,
			Points:          def.Points,
			Timestamp:       stamp,
			ThreadID:        th.ID,
			ConfirmThreadID: confirmByName[confirmTitle(def.Name, stamp)],
			CreatedAt:       s.now(),
		}
		if fields := strings.Fields(stamp); len(fields) == 2 {
			sp.Date, sp.Time = fields[0], fields[1]
		}
		if len(msgs) > 0 {
			// the opening announcement approximates thread creation
			sp.CreatedAt = msgs[0].CreatedAt
		}

		var pendings []*PendingVerification
		for _, msg := range msgs {
			switch {
			case msg.AuthorIsBot && strings.Contains(msg.Content, verifiedByMarker):
				member := strings.TrimSpace(msg.Content[:strings.Index(msg.Content, verifiedByMarker)])
				if member != "" && !memberListed(sp.Members, member) {
					sp.Members = append(sp.Members, member)
				}
			case !msg.AuthorIsBot && IsCheckInMessage(msg.Content):
				pendings = append(pendings, &PendingVerification{
					MessageID:   msg.ID,
					ThreadID:    th.ID,
					Author:      msg.AuthorName,
					AuthorID:    msg.AuthorID,
					SubmittedAt: msg.CreatedAt,
				})
			}
		}

		key := columnKey(def.Name, stamp)
		s.mu.Lock()
		if _, dup := s.columns[key]; dup {
			s.mu.Unlock()
			continue
		}
		s.spawns[th.ID] = sp
		s.columns[key] = th.ID
		for _, pv := range pendings {
			if memberListed(sp.Members, pv.Author) {
				continue
			}
			s.pendingVerifications[pv.MessageID] = pv
		}
		s.mu.Unlock()
		restored++

		s.logger.Info("spawn restored from thread",
			"event", def.Name, "timestamp", stamp, "thread", th.ID,
			"members", len(sp.Members), "pending", len(pendings))
	}
	return restored, nil
}

// Status returns a snapshot of tracked spawns, sorted by timestamp then
// event.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	pendingByThread := make(map[string]int)
	for _, pv := range s.pendingVerifications {
		pendingByThread[pv.ThreadID]++
	}
	var st Status
	for id, sp := range s.spawns {
		st.Spawns = append(st.Spawns, SpawnStatus{
			Event:     sp.Event,
			Timestamp: sp.Timestamp,
			ThreadID:  id,
			Members:   len(sp.Members),
			Pending:   pendingByThread[id],
			Closed:    sp.Closed,
			CreatedAt: sp.CreatedAt,
		})
	}
	sort.Slice(st.Spawns, func(i, j int) bool {
		if st.Spawns[i].Timestamp != st.Spawns[j].Timestamp {
			return st.Spawns[i].Timestamp < st.Spawns[j].Timestamp
		}
		return st.Spawns[i].Event < st.Spawns[j].Event
	})
	st.PendingClosures = len(s.pendingClosures)
	return st
}

// OpenThreads returns the thread IDs the poller should watch for
// messages, confirm threads included.
func (s *Service) OpenThreads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, sp := range s.spawns {
		ids = append(ids, id)
		if sp.ConfirmThreadID != "" {
			ids = append(ids, sp.ConfirmThreadID)
		}
	}
	sort.Strings(ids)
	return ids
}

// TrackedMessages returns the messages the poller should watch for
// reactions: pending check-ins and close prompts.
func (s *Service) TrackedMessages() []TrackedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []TrackedMessage
	for id, pv := range s.pendingVerifications {
		out = append(out, TrackedMessage{ChannelID: pv.ThreadID, MessageID: id, Kind: TrackedVerification})
	}
	for id, pc := range s.pendingClosures {
		out = append(out, TrackedMessage{ChannelID: pc.ThreadID, MessageID: id, Kind: TrackedClosure})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out
}
