package dynamo

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/swapgo/refcount"
)

// ErrLockLost is returned by unlock when the lease expired and another
// owner took the lock over.
var ErrLockLost = errors.New("dynamo: lock lost")

const (
	// DefaultLease is how long an acquired lock stays valid before another
	// owner may take it over.
	DefaultLease = 30 * time.Second
	// DefaultMaxWait bounds how long Lock retries before giving up.
	DefaultMaxWait = 30 * time.Second
)

const (
	lockPrefix      = "lock#"
	minRetryBackoff = 10 * time.Millisecond
	maxRetryBackoff = 500 * time.Millisecond
)

// Locker is a distributed lock built on conditional writes. A lock item is
// created only if none exists or the existing lease has expired, and
// deleted only by its owner.
type Locker struct {
	client  Client
	table   string
	lease   time.Duration
	maxWait time.Duration
	owner   string
	seq     atomic.Uint64
	now     func() time.Time
}

// LockerOption configures a Locker.
type LockerOption func(*Locker)

// WithLease sets how long a lock stays valid without being released.
func WithLease(d time.Duration) LockerOption {
	return func(l *Locker) {
		if d > 0 {
			l.lease = d
		}
	}
}

// WithMaxWait bounds how long Lock retries. Zero waits until ctx is done.
func WithMaxWait(d time.Duration) LockerOption {
	return func(l *Locker) { l.maxWait = d }
}

// WithOwner sets the owner token prefix. Default: random.
func WithOwner(owner string) LockerOption {
	return func(l *Locker) {
		if owner != "" {
			l.owner = owner
		}
	}
}

// NewLocker returns a Locker storing lock items in table.
func NewLocker(client Client, table string, opts ...LockerOption) *Locker {
	l := &Locker{
		client:  client,
		table:   table,
		lease:   DefaultLease,
		maxWait: DefaultMaxWait,
		owner:   randomOwner(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func randomOwner() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func millis(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

// Lock acquires the lock for path, retrying with backoff while another
// owner holds an unexpired lease.
func (l *Locker) Lock(ctx context.Context, path string) (func(context.Context) error, error) {
	token := l.owner + "-" + strconv.FormatUint(l.seq.Add(1), 10)
	start := l.now()
	backoff := minRetryBackoff

	for {
		ok, err := l.tryLock(ctx, path, token)
		if err != nil {
			return nil, err
		}
		if ok {
			return func(ctx context.Context) error { return l.unlock(ctx, path, token) }, nil
		}

		if l.maxWait > 0 && l.now().Sub(start) >= l.maxWait {
			return nil, fmt.Errorf("%w: %s", refcount.ErrLockTimeout, path)
		}
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		backoff = min(2*backoff, maxRetryBackoff)
	}
}

func (l *Locker) tryLock(ctx context.Context, path, token string) (bool, error) {
	now := l.now()
	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item: map[string]types.AttributeValue{
			attrPath:    &types.AttributeValueMemberS{Value: lockPrefix + path},
			attrOwner:   &types.AttributeValueMemberS{Value: token},
			attrExpires: &types.AttributeValueMemberN{Value: millis(now.Add(l.lease))},
		},
		ConditionExpression: aws.String("attribute_not_exists(#p) OR #e < :now"),
		ExpressionAttributeNames: map[string]string{
			"#p": attrPath,
			"#e": attrExpires,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: millis(now)},
		},
	})
	if err == nil {
		return true, nil
	}
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return false, nil
	}
	return false, fmt.Errorf("dynamo: lock %s: %w", path, err)
}

func (l *Locker) unlock(ctx context.Context, path, token string) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(l.table),
		Key:                 key(lockPrefix + path),
		ConditionExpression: aws.String("#o = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#o": attrOwner,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: token},
		},
	})
	if err == nil {
		return nil
	}
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return fmt.Errorf("%w: %s", ErrLockLost, path)
	}
	return fmt.Errorf("dynamo: unlock %s: %w", path, err)
}

var _ refcount.Locker = (*Locker)(nil)
