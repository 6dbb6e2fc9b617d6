package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/mcpden/mcpden/pkg/events"
	"github.com/mcpden/mcpden/pkg/log"
	bolt "go.etcd.io/bbolt"
)

// retainPerTopic caps how many events each topic bucket keeps
const retainPerTopic = 512

var topicBuckets = map[events.Topic][]byte{
	events.TopicServer: []byte("server-events"),
	events.TopicApp:    []byte("app-events"),
}

// Journal persists a bounded ring of recent events per topic so subscribers
// that saw a backpressure-drop can resync. Writes are best effort; a journal
// failure is logged and never propagated to publishers.
type Journal struct {
	db *bolt.DB

	mu  sync.Mutex
	sub *events.Subscription
	wg  sync.WaitGroup
}

// Open opens (or creates) the journal database in dataDir
func Open(dataDir string) (*Journal, error) {
	dbPath := filepath.Join(dataDir, "events.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open event journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range topicBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db}, nil
}

// Attach subscribes the journal to the bus and starts the writer loop
func (j *Journal) Attach(bus *events.Bus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.sub != nil {
		return
	}

	logger := log.WithComponent("journal")
	sub := bus.Subscribe(events.TopicServer, events.TopicApp)
	j.sub = sub
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		for event := range sub.C {
			if event.Type == events.KindBackpressureDrop {
				// The journal itself fell behind; nothing useful to record
				continue
			}
			if err := j.Append(event); err != nil {
				logger.Warn().Err(err).Str("event_id", event.ID).Msg("journal write failed")
			}
		}
	}()
}

// Append writes one event to its topic ring
func (j *Journal) Append(event *events.Event) error {
	bucket, ok := topicBuckets[event.Topic]
	if !ok {
		return fmt.Errorf("unknown topic: %s", event.Topic)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := b.Put(key, data); err != nil {
			return err
		}

		// Trim the ring from the oldest end
		var count int
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}
		for count > retainPerTopic {
			k, _ := b.Cursor().First()
			if k == nil {
				break
			}
			if err := b.Delete(k); err != nil {
				return err
			}
			count--
		}
		return nil
	})
}

// Recent returns up to limit events for the topic, oldest first
func (j *Journal) Recent(topic events.Topic, limit int) ([]*events.Event, error) {
	bucket, ok := topicBuckets[topic]
	if !ok {
		return nil, fmt.Errorf("unknown topic: %s", topic)
	}
	if limit <= 0 || limit > retainPerTopic {
		limit = retainPerTopic
	}

	var out []*events.Event
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var event events.Event
			if err := json.Unmarshal(v, &event); err != nil {
				return err
			}
			out = append(out, &event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Cursor walked newest-first; flip to oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close detaches from the bus and closes the database
func (j *Journal) Close() error {
	j.mu.Lock()
	sub := j.sub
	j.sub = nil
	j.mu.Unlock()

	if sub != nil {
		sub.Close()
		j.wg.Wait()
	}
	return j.db.Close()
}
