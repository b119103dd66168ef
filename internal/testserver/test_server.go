// Package testserver hosts in-memory stand-ins for the two remote ends
// the bot talks to: the Discord REST API and the attendance ledger
// webhook. Integration tests wire the real clients against these.
package testserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/elysium-gg/spawnkeeper/internal/ledger"
)

// BotUserID is the id the fake Discord assigns to messages the bot posts.
const BotUserID = "bot-0"

type thread struct {
	ID       string
	Name     string
	ParentID string
	Archived bool
	Locked   bool
	Deleted  bool
}

type message struct {
	ID            string
	ChannelID     string
	AuthorID      string
	AuthorName    string
	AuthorIsBot   bool
	Content       string
	HasAttachment bool
	CreatedAt     time.Time
	Deleted       bool
}

type member struct {
	ID      string
	Name    string
	RoleIDs []string
}

// Discord is an in-memory Discord REST API covering the endpoints the
// bot's client uses. State mutations happen through the HTTP surface or
// the seeding helpers.
type Discord struct {
	Server *httptest.Server

	mu        sync.Mutex
	clock     time.Time
	nextID    int
	threads   map[string]*thread
	messages  map[string][]*message
	reactions map[string]map[string][]member
	members   map[string]member
}

// NewDiscord starts the fake API. clock seeds message timestamps; each
// new message is stamped one second after the previous one so fetch
// ordering is deterministic.
func NewDiscord(t *testing.T, clock time.Time) *Discord {
	t.Helper()
	d := &Discord{
		clock:     clock,
		nextID:    1000,
		threads:   make(map[string]*thread),
		messages:  make(map[string][]*message),
		reactions: make(map[string]map[string][]member),
		members:   make(map[string]member),
	}
	d.Server = httptest.NewServer(d.mux())
	t.Cleanup(d.Server.Close)
	return d
}

// AddMember registers a guild member for FetchMember lookups.
func (d *Discord) AddMember(userID, name string, roleIDs ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[userID] = member{ID: userID, Name: name, RoleIDs: roleIDs}
}

// PostUserMessage injects a message as if a user had typed it and
// returns its id.
func (d *Discord) PostUserMessage(channelID, authorID, authorName, content string, attachment bool) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.appendMessageLocked(channelID, authorID, authorName, false, content, attachment)
}

// React injects a user reaction on a message.
func (d *Discord) React(messageID, emoji, userID, userName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reactions[messageID] == nil {
		d.reactions[messageID] = make(map[string][]member)
	}
	d.reactions[messageID][emoji] = append(d.reactions[messageID][emoji], member{ID: userID, Name: userName})
}

// ThreadsIn returns the names of live threads under a parent channel,
// sorted.
func (d *Discord) ThreadsIn(parentID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var names []string
	for _, th := range d.threads {
		if th.ParentID == parentID && !th.Deleted {
			names = append(names, th.Name)
		}
	}
	sort.Strings(names)
	return names
}

// ThreadID returns the id of the live thread with the given name, or "".
func (d *Discord) ThreadID(name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, th := range d.threads {
		if th.Name == name && !th.Deleted {
			return th.ID
		}
	}
	return ""
}

// ThreadArchived reports whether the thread has been archived.
func (d *Discord) ThreadArchived(threadID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	th, ok := d.threads[threadID]
	return ok && th.Archived
}

// MessagesIn returns the contents of live messages in a channel, oldest
// first.
func (d *Discord) MessagesIn(channelID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, m := range d.messages[channelID] {
		if !m.Deleted {
			out = append(out, m.Content)
		}
	}
	return out
}

func (d *Discord) appendMessageLocked(channelID, authorID, authorName string, bot bool, content string, attachment bool) string {
	d.nextID++
	d.clock = d.clock.Add(time.Second)
	m := &message{
		ID:            strconv.Itoa(d.nextID),
		ChannelID:     channelID,
		AuthorID:      authorID,
		AuthorName:    authorName,
		AuthorIsBot:   bot,
		Content:       content,
		HasAttachment: attachment,
		CreatedAt:     d.clock,
	}
	d.messages[channelID] = append(d.messages[channelID], m)
	return m.ID
}

func (d *Discord) mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /channels/{channel}/threads", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name string `json:"name"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		d.mu.Lock()
		d.nextID++
		th := &thread{ID: strconv.Itoa(d.nextID), Name: body.Name, ParentID: r.PathValue("channel")}
		d.threads[th.ID] = th
		d.mu.Unlock()
		writeJSON(w, map[string]any{"id": th.ID, "name": th.Name, "parent_id": th.ParentID})
	})

	mux.HandleFunc("POST /channels/{channel}/messages", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content string `json:"content"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		d.mu.Lock()
		id := d.appendMessageLocked(r.PathValue("channel"), BotUserID, "spawnkeeper", true, body.Content, false)
		d.mu.Unlock()
		writeJSON(w, map[string]any{"id": id, "channel_id": r.PathValue("channel")})
	})

	mux.HandleFunc("GET /channels/{channel}/messages", func(w http.ResponseWriter, r *http.Request) {
		after := r.URL.Query().Get("after")
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 100
		}
		d.mu.Lock()
		var out []map[string]any
		for _, m := range d.messages[r.PathValue("channel")] {
			if m.Deleted {
				continue
			}
			if after != "" && m.ID <= after {
				continue
			}
			out = append(out, wireMessage(m))
		}
		d.mu.Unlock()
		// newest first, like the real API
		sort.Slice(out, func(i, j int) bool {
			return out[i]["id"].(string) > out[j]["id"].(string)
		})
		if len(out) > limit {
			out = out[:limit]
		}
		if out == nil {
			out = []map[string]any{}
		}
		writeJSON(w, out)
	})

	mux.HandleFunc("PUT /channels/{channel}/messages/{message}/reactions/{emoji}/@me", func(w http.ResponseWriter, r *http.Request) {
		d.React(r.PathValue("message"), r.PathValue("emoji"), BotUserID, "spawnkeeper")
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /channels/{channel}/messages/{message}/reactions/{emoji}", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		users := []map[string]any{}
		for _, u := range d.reactions[r.PathValue("message")][r.PathValue("emoji")] {
			users = append(users, map[string]any{"id": u.ID, "username": u.Name, "bot": u.ID == BotUserID})
		}
		d.mu.Unlock()
		writeJSON(w, users)
	})

	mux.HandleFunc("DELETE /channels/{channel}/messages/{message}/reactions/{emoji}/{user}", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		emojis := d.reactions[r.PathValue("message")]
		if emojis == nil {
			d.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
			return
		}
		kept := emojis[r.PathValue("emoji")][:0]
		for _, u := range emojis[r.PathValue("emoji")] {
			if u.ID != r.PathValue("user") {
				kept = append(kept, u)
			}
		}
		emojis[r.PathValue("emoji")] = kept
		d.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("DELETE /channels/{channel}/messages/{message}/reactions", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		delete(d.reactions, r.PathValue("message"))
		d.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("DELETE /channels/{channel}/messages/{message}", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		for _, m := range d.messages[r.PathValue("channel")] {
			if m.ID == r.PathValue("message") {
				m.Deleted = true
			}
		}
		d.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("PATCH /channels/{channel}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Archived *bool `json:"archived"`
			Locked   *bool `json:"locked"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		d.mu.Lock()
		if th, ok := d.threads[r.PathValue("channel")]; ok {
			if body.Archived != nil {
				th.Archived = *body.Archived
			}
			if body.Locked != nil {
				th.Locked = *body.Locked
			}
		}
		d.mu.Unlock()
		writeJSON(w, map[string]any{"id": r.PathValue("channel")})
	})

	mux.HandleFunc("DELETE /channels/{channel}", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		if th, ok := d.threads[r.PathValue("channel")]; ok {
			th.Deleted = true
		}
		d.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("GET /guilds/{guild}/members/{user}", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		m, ok := d.members[r.PathValue("user")]
		d.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]any{"code": 10007, "message": "Unknown Member"})
			return
		}
		writeJSON(w, map[string]any{
			"user":  map[string]any{"id": m.ID, "username": m.Name},
			"roles": m.RoleIDs,
		})
	})

	mux.HandleFunc("GET /guilds/{guild}/threads/active", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		threads := []map[string]any{}
		for _, th := range d.threads {
			if !th.Deleted && !th.Archived {
				threads = append(threads, map[string]any{"id": th.ID, "name": th.Name, "parent_id": th.ParentID})
			}
		}
		d.mu.Unlock()
		writeJSON(w, map[string]any{"threads": threads})
	})

	return mux
}

func wireMessage(m *message) map[string]any {
	out := map[string]any{
		"id":         m.ID,
		"channel_id": m.ChannelID,
		"author": map[string]any{
			"id":       m.AuthorID,
			"username": m.AuthorName,
			"bot":      m.AuthorIsBot,
		},
		"content":   m.Content,
		"timestamp": m.CreatedAt.Format(time.RFC3339),
	}
	if m.HasAttachment {
		out["attachments"] = []map[string]any{{"id": "att-1"}}
	}
	return out
}

// Ledger is an in-memory attendance ledger webhook.
type Ledger struct {
	Server *httptest.Server

	mu          sync.Mutex
	columns     map[string]bool
	submissions []ledger.Submission
	timers      map[string]ledger.RecoveryRecord
}

// NewLedger starts the fake webhook.
func NewLedger(t *testing.T) *Ledger {
	t.Helper()
	l := &Ledger{
		columns: make(map[string]bool),
		timers:  make(map[string]ledger.RecoveryRecord),
	}
	l.Server = httptest.NewServer(http.HandlerFunc(l.handle))
	t.Cleanup(l.Server.Close)
	return l
}

// Submissions returns the attendance columns received so far.
func (l *Ledger) Submissions() []ledger.Submission {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.Submission(nil), l.submissions...)
}

// Timers returns the persisted recovery records, sorted by event.
func (l *Ledger) Timers() []ledger.RecoveryRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ledger.RecoveryRecord, 0, len(l.timers))
	for _, rec := range l.timers {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Event < out[j].Event })
	return out
}

// SetColumn marks a column as already existing.
func (l *Ledger) SetColumn(eventName, timestamp string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.columns[eventName+"|"+timestamp] = true
}

func (l *Ledger) handle(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	action, _ := body["action"].(string)

	l.mu.Lock()
	defer l.mu.Unlock()
	reply := map[string]any{"status": "ok"}

	switch action {
	case ledger.ActionCheckColumn:
		key := fmt.Sprintf("%v|%v", body["event"], body["timestamp"])
		reply["exists"] = l.columns[key]

	case ledger.ActionSubmitAttendance:
		var sub ledger.Submission
		remarshal(body, &sub)
		l.submissions = append(l.submissions, sub)
		l.columns[sub.Event+"|"+sub.Timestamp] = true

	case ledger.ActionSaveTimerRecovery:
		var rec ledger.RecoveryRecord
		remarshal(body["record"], &rec)
		l.timers[rec.Event] = rec

	case ledger.ActionBulkSaveTimerRecovery:
		var recs []ledger.RecoveryRecord
		remarshal(body["records"], &recs)
		l.timers = make(map[string]ledger.RecoveryRecord, len(recs))
		for _, rec := range recs {
			l.timers[rec.Event] = rec
		}

	case ledger.ActionDeleteTimerRecovery:
		name, _ := body["event"].(string)
		delete(l.timers, name)

	case ledger.ActionClearTimerRecovery:
		l.timers = make(map[string]ledger.RecoveryRecord)

	case ledger.ActionGetTimerRecovery:
		records := make([]ledger.RecoveryRecord, 0, len(l.timers))
		for _, rec := range l.timers {
			records = append(records, rec)
		}
		reply["records"] = records

	default:
		reply["status"] = "error"
		reply["error"] = "unknown action " + action
	}
	writeJSON(w, reply)
}

func remarshal(in, out any) {
	data, err := json.Marshal(in)
	if err != nil {
		return
	}
	json.Unmarshal(data, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
