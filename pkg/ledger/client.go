package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned for unknown participants, periods and staff handles.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a schema-level write lost a race with another
	// schema-level write. Callers re-read and retry once.
	ErrConflict = errors.New("concurrent schema change")

	// ErrImmutableField is returned when a caller tries to overwrite the reviewer cell.
	ErrImmutableField = errors.New("field is immutable")
)

// Client provides cohort-scoped Redis operations for the ledger.
// All keys and channels are automatically namespaced with the cohort name.
// The client is safe for concurrent use by multiple goroutines.
type Client struct {
	rdb    *redis.Client
	cohort string
	now    func() time.Time
}

// NewClient creates a new ledger client for the specified cohort.
// Returns an error if cohort is empty.
func NewClient(redisOpts *redis.Options, cohort string) (*Client, error) {
	if cohort == "" {
		return nil, fmt.Errorf("cohort name cannot be empty")
	}

	return &Client{
		rdb:    redis.NewClient(redisOpts),
		cohort: cohort,
		now:    time.Now,
	}, nil
}

// Cohort returns the cohort this client is scoped to.
func (c *Client) Cohort() string {
	return c.cohort
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Used by health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// AddParticipant inserts a row for p, returning its id.
// A participant whose handle is already known keeps its row; only the name is updated.
// Rows added after periods exist receive empty column groups (no reviewer) for those periods.
func (c *Client) AddParticipant(ctx context.Context, p Participant) (int, error) {
	p.Handle = NormalizeHandle(p.Handle)
	if err := p.Validate(); err != nil {
		return 0, fmt.Errorf("invalid participant: %w", err)
	}

	keys := []string{HandlesKey(c.cohort), RowsKey(c.cohort), RowSeqKey(c.cohort), PeriodsKey(c.cohort)}
	res, err := addParticipantScript.Run(ctx, c.rdb, keys, p.Handle, p.Name, rowKeyPrefix(c.cohort)).Slice()
	if err != nil {
		return 0, fmt.Errorf("failed to add participant %s: %w", p.Handle, err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("unexpected add participant reply: %v", res)
	}

	id, _ := res[0].(int64)
	created, _ := res[1].(int64)
	if created == 1 {
		c.publish(ctx, &ChangeEvent{Kind: ChangeParticipant, RowID: int(id), Value: p.Handle})
	}
	return int(id), nil
}

// LookupParticipant resolves a handle to its participant.
// Returns ErrNotFound if the handle is not on the roster.
func (c *Client) LookupParticipant(ctx context.Context, handle string) (*Participant, error) {
	handle = NormalizeHandle(handle)
	raw, err := c.rdb.HGet(ctx, HandlesKey(c.cohort), handle).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("participant %s: %w", handle, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up participant: %w", err)
	}

	id, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt handle index for %s: %w", handle, err)
	}

	fields, err := c.rdb.HMGet(ctx, RowKey(c.cohort, id), "name", "handle").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read participant %d: %w", id, err)
	}
	name, _ := fields[0].(string)
	return &Participant{ID: id, Name: name, Handle: handle}, nil
}

// ListParticipants returns every participant ordered by row id.
func (c *Client) ListParticipants(ctx context.Context) ([]Participant, error) {
	_, rows, err := c.snapshot(ctx, "name", "handle")
	if err != nil {
		return nil, err
	}

	participants := make([]Participant, 0, len(rows))
	for _, r := range rows {
		participants = append(participants, Participant{ID: r.id, Name: r.values[0], Handle: r.values[1]})
	}
	return participants, nil
}

// ReadRow returns one participant's row.
// Returns ErrNotFound if the participant does not exist.
func (c *Client) ReadRow(ctx context.Context, id int) (*Row, error) {
	hash, err := c.rdb.HGetAll(ctx, RowKey(c.cohort, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read row %d: %w", id, err)
	}
	if len(hash) == 0 {
		return nil, fmt.Errorf("participant %d: %w", id, ErrNotFound)
	}
	return HashToRow(id, hash)
}

// ReadAll returns every row ordered by id, read in one atomic step.
func (c *Client) ReadAll(ctx context.Context) ([]*Row, error) {
	_, rows, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*Row, 0, len(rows))
	for _, r := range rows {
		hash, err := flatToMap(r.raw)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r.id, err)
		}
		row, err := HashToRow(r.id, hash)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// ReadColumn returns field for every participant in period, keyed by row id.
// Null cells are present with an empty value. Returns ErrNotFound for unknown periods.
func (c *Client) ReadColumn(ctx context.Context, period int, field Field) (map[int]string, error) {
	if err := field.Validate(); err != nil {
		return nil, err
	}

	periods, rows, err := c.snapshot(ctx, CellName(period, field))
	if err != nil {
		return nil, err
	}
	if _, ok := periods[period]; !ok {
		return nil, fmt.Errorf("period %d: %w", period, ErrNotFound)
	}

	column := make(map[int]string, len(rows))
	for _, r := range rows {
		column[r.id] = r.values[0]
	}
	return column, nil
}

// ReadPeriod returns every row projected onto period, read in one atomic step.
// Returns ErrNotFound for unknown periods.
func (c *Client) ReadPeriod(ctx context.Context, period int) ([]PeriodRow, error) {
	cells := []string{"name", "handle"}
	for _, f := range Fields {
		cells = append(cells, CellName(period, f))
	}

	periods, rows, err := c.snapshot(ctx, cells...)
	if err != nil {
		return nil, err
	}
	if _, ok := periods[period]; !ok {
		return nil, fmt.Errorf("period %d: %w", period, ErrNotFound)
	}

	out := make([]PeriodRow, 0, len(rows))
	for _, r := range rows {
		pr := PeriodRow{Participant: Participant{ID: r.id, Name: r.values[0], Handle: r.values[1]}}
		for i, f := range Fields {
			pr.Submission.set(f, r.values[2+i])
		}
		out = append(out, pr)
	}
	return out, nil
}

// WriteCell sets one cell. The write is atomic with respect to every other
// WriteCell and AppendPeriod call; concurrent writers to different cells never
// lose each other's updates.
// Returns ErrNotFound for unknown participants or periods and ErrImmutableField
// for the reviewer cell.
func (c *Client) WriteCell(ctx context.Context, id int, period int, field Field, value string) error {
	if err := field.Validate(); err != nil {
		return err
	}
	if field == FieldReviewer {
		return fmt.Errorf("%s: %w", field, ErrImmutableField)
	}

	keys := []string{RowKey(c.cohort, id), PeriodsKey(c.cohort)}
	status, err := writeCellScript.Run(ctx, c.rdb, keys, strconv.Itoa(period), CellName(period, field), value).Int()
	if err != nil {
		return fmt.Errorf("failed to write %s for participant %d: %w", CellName(period, field), id, err)
	}

	switch status {
	case statusOK:
	case statusNoRow:
		return fmt.Errorf("participant %d: %w", id, ErrNotFound)
	case statusNoPeriod:
		return fmt.Errorf("period %d: %w", period, ErrNotFound)
	default:
		return fmt.Errorf("unexpected write status %d", status)
	}

	c.publish(ctx, &ChangeEvent{Kind: ChangeCell, RowID: id, Period: period, Field: field, Value: value})
	return nil
}

// AppendPeriod creates period p and its column group on every row, recording
// assignments (row id -> reviewer handle, "" for none) in the reviewer cells.
// The append is all-or-nothing. Returns ErrConflict if p is not the next ordinal
// or assignments does not cover exactly the current rows; the caller re-reads
// the roster and retries.
func (c *Client) AppendPeriod(ctx context.Context, p Period, assignments map[int]string) error {
	if err := p.Validate(); err != nil {
		return err
	}

	ids := make([]int, 0, len(assignments))
	for id := range assignments {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	args := []interface{}{strconv.Itoa(p.Number), p.Label, rowKeyPrefix(c.cohort)}
	for _, id := range ids {
		args = append(args, strconv.Itoa(id), assignments[id])
	}

	keys := []string{PeriodsKey(c.cohort), RowsKey(c.cohort)}
	status, err := appendPeriodScript.Run(ctx, c.rdb, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to append period %d: %w", p.Number, err)
	}

	switch status {
	case statusOK:
	case statusSchemaChanged:
		return fmt.Errorf("period %d: %w", p.Number, ErrConflict)
	default:
		return fmt.Errorf("unexpected append status %d", status)
	}

	c.publish(ctx, &ChangeEvent{Kind: ChangePeriod, Period: p.Number, Value: p.Label})
	return nil
}

// Periods returns every created period in ordinal order.
func (c *Client) Periods(ctx context.Context) ([]Period, error) {
	hash, err := c.rdb.HGetAll(ctx, PeriodsKey(c.cohort)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read periods: %w", err)
	}
	return hashToPeriods(hash)
}

// CurrentPeriod returns the highest period ordinal, or 0 before the first period.
// Derived on every call; never cached.
func (c *Client) CurrentPeriod(ctx context.Context) (int, error) {
	periods, err := c.Periods(ctx)
	if err != nil {
		return 0, err
	}
	if len(periods) == 0 {
		return 0, nil
	}
	return periods[len(periods)-1].Number, nil
}

// HasPeriod reports whether period n has been created.
func (c *Client) HasPeriod(ctx context.Context, n int) (bool, error) {
	ok, err := c.rdb.HExists(ctx, PeriodsKey(c.cohort), strconv.Itoa(n)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check period %d: %w", n, err)
	}
	return ok, nil
}

// ReplaceStaff swaps the whole staff list in one transaction.
// Order is taken from the slice position.
func (c *Client) ReplaceStaff(ctx context.Context, staff []Staff) error {
	values := make(map[string]interface{}, len(staff))
	for i := range staff {
		s := staff[i]
		s.Handle = NormalizeHandle(s.Handle)
		s.Order = i
		if err := s.Validate(); err != nil {
			return fmt.Errorf("invalid staff entry %d: %w", i, err)
		}
		data, err := StaffToJSON(&s)
		if err != nil {
			return err
		}
		values[s.Handle] = data
	}

	key := StaffKey(c.cohort)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.HSet(ctx, key, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace staff: %w", err)
	}

	c.publish(ctx, &ChangeEvent{Kind: ChangeStaff, Value: strconv.Itoa(len(values))})
	return nil
}

// GetStaff returns the staff entry for handle.
// Returns ErrNotFound if the handle is not on the staff list.
func (c *Client) GetStaff(ctx context.Context, handle string) (*Staff, error) {
	handle = NormalizeHandle(handle)
	data, err := c.rdb.HGet(ctx, StaffKey(c.cohort), handle).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("staff %s: %w", handle, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read staff: %w", err)
	}
	return JSONToStaff(data)
}

// ListStaff returns the staff list in roster order.
func (c *Client) ListStaff(ctx context.Context) ([]Staff, error) {
	hash, err := c.rdb.HGetAll(ctx, StaffKey(c.cohort)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read staff: %w", err)
	}

	staff := make([]Staff, 0, len(hash))
	for _, data := range hash {
		s, err := JSONToStaff(data)
		if err != nil {
			return nil, err
		}
		staff = append(staff, *s)
	}
	sort.Slice(staff, func(i, j int) bool { return staff[i].Order < staff[j].Order })
	return staff, nil
}

// snapshotRow is one row of a snapshot reply.
type snapshotRow struct {
	id     int
	values []string      // requested cells, in order
	raw    []interface{} // HGETALL output when no cells were requested
}

// snapshot runs snapshotScript and decodes its reply.
func (c *Client) snapshot(ctx context.Context, cells ...string) (map[int]string, []snapshotRow, error) {
	args := make([]interface{}, 0, len(cells)+1)
	args = append(args, rowKeyPrefix(c.cohort))
	for _, cell := range cells {
		args = append(args, cell)
	}

	keys := []string{RowsKey(c.cohort), PeriodsKey(c.cohort)}
	res, err := snapshotScript.Run(ctx, c.rdb, keys, args...).Slice()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read ledger snapshot: %w", err)
	}
	if len(res) != 2 {
		return nil, nil, fmt.Errorf("unexpected snapshot reply length %d", len(res))
	}

	periodsFlat, _ := res[0].([]interface{})
	periodHash, err := flatToMap(periodsFlat)
	if err != nil {
		return nil, nil, fmt.Errorf("periods: %w", err)
	}
	periods := make(map[int]string, len(periodHash))
	for k, label := range periodHash {
		n, err := strconv.Atoi(k)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid period ordinal %q: %w", k, err)
		}
		periods[n] = label
	}

	rawRows, _ := res[1].([]interface{})
	rows := make([]snapshotRow, 0, len(rawRows))
	for _, item := range rawRows {
		pair, ok := item.([]interface{})
		if !ok || len(pair) != 2 {
			return nil, nil, fmt.Errorf("unexpected snapshot row %v", item)
		}
		idStr, _ := pair[0].(string)
		id, err := strconv.Atoi(idStr)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid row id %q: %w", idStr, err)
		}
		values, _ := pair[1].([]interface{})

		row := snapshotRow{id: id}
		if len(cells) > 0 {
			row.values = make([]string, len(cells))
			for i := range cells {
				if i < len(values) {
					row.values[i], _ = values[i].(string)
				}
			}
		} else {
			row.raw = values
		}
		rows = append(rows, row)
	}

	return periods, rows, nil
}

// publish announces a committed change. The write already succeeded, so a
// failed publish is logged and not returned.
func (c *Client) publish(ctx context.Context, ev *ChangeEvent) {
	ev.AtMs = c.now().UnixMilli()
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[Ledger] Failed to marshal change event: %v", err)
		return
	}
	if err := c.rdb.Publish(ctx, LedgerEventsChannel(c.cohort), data).Err(); err != nil {
		log.Printf("[Ledger] Failed to publish change event: %v", err)
	}
}

// Subscription represents an active Pub/Sub subscription to ledger change events.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *ChangeEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of change events.
// The channel is closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *ChangeEvent {
	return s.events
}

// Errors returns the channel of non-fatal subscription errors.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeChanges subscribes to change events for this cohort.
// Events are delivered on a buffered channel (size 10); slow subscribers may miss
// events (at-most-once delivery).
func (c *Client) SubscribeChanges(ctx context.Context) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, LedgerEventsChannel(c.cohort))

	// Wait for the subscription to be confirmed so no event published right
	// after this call returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to ledger events: %w", err)
	}

	eventsChan := make(chan *ChangeEvent, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal change event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is (or wraps) ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
