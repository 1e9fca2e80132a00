package anchor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"qrtrust/internal/domain"
)

const DefaultTimeout = 30 * time.Second

// How long Anchor waits past its deadline for the registry to report the
// transaction it submitted.
const pendingGrace = 250 * time.Millisecond

// TxReceipt is what a registry reports once a write is confirmed. A registry
// whose confirmation wait is cut short returns Pending with the submitted
// transaction as Reference, alongside the context error.
type TxReceipt struct {
	Reference   domain.LedgerReference
	BlockNumber uint64
	Pending     bool
}

// Registry is the contract surface of a product registry deployed on a
// ledger. Implementations should classify their failures with the domain
// ledger errors; anything unclassified is treated as unavailability.
type Registry interface {
	Name() string
	StoreProduct(ctx context.Context, productID string, fp domain.Fingerprint) (TxReceipt, error)
	GetProduct(ctx context.Context, productID string) (domain.Fingerprint, error)
}

// ReceiptAwaiter is implemented by registries that can pick up the
// confirmation wait of a write submitted earlier.
type ReceiptAwaiter interface {
	AwaitReceipt(ctx context.Context, ref domain.LedgerReference) (TxReceipt, error)
}

type submission struct {
	fp  domain.Fingerprint
	ref domain.LedgerReference
}

// Client bounds every registry call and maps its outcome onto exactly one of
// the ledger errors. It does not deduplicate; callers own uniqueness. A write
// whose confirmation times out is remembered by its submitted reference so a
// retry of the same fingerprint resumes it instead of colliding with it.
type Client struct {
	registry Registry
	timeout  time.Duration
	attempts domain.AnchorAttemptRecorder
	log      logrus.FieldLogger
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]submission
}

type Option func(*Client)

func WithAttemptRecorder(recorder domain.AnchorAttemptRecorder) Option {
	return func(c *Client) { c.attempts = recorder }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

func NewClient(registry Registry, timeout time.Duration, opts ...Option) (*Client, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	c := &Client{
		registry: registry,
		timeout:  timeout,
		log:      logger,
		now:      time.Now,
		pending:  make(map[string]submission),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Provider() string {
	return c.registry.Name()
}

func (c *Client) Anchor(ctx context.Context, productID string, fp domain.Fingerprint) (domain.LedgerReference, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	started := c.now()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prior := c.priorReference(callCtx, productID, fp)
	if prior != "" {
		ref, err := c.resume(callCtx, productID, fp, prior)
		switch {
		case ref != "":
			c.log.WithFields(logrus.Fields{
				"product_id": productID,
				"reference":  ref.String(),
			}).Info("pending anchor confirmed")
			return c.finish(ctx, callCtx, productID, fp, TxReceipt{Reference: ref}, nil, started)
		case err != nil:
			return c.finish(ctx, callCtx, productID, fp, TxReceipt{Reference: prior, Pending: true}, err, started)
		}
	}

	receipt, err := c.store(callCtx, productID, fp)
	if errors.Is(err, domain.ErrLedgerRejected) {
		ref, reconcileErr := c.reconcile(callCtx, productID, fp, prior)
		switch {
		case ref != "":
			receipt, err = TxReceipt{Reference: ref}, nil
		case reconcileErr != nil:
			err = reconcileErr
		}
	}
	return c.finish(ctx, callCtx, productID, fp, receipt, err, started)
}

func (c *Client) store(callCtx context.Context, productID string, fp domain.Fingerprint) (TxReceipt, error) {
	type result struct {
		receipt TxReceipt
		err     error
	}
	done := make(chan result, 1)
	go func() {
		receipt, err := c.registry.StoreProduct(callCtx, productID, fp)
		done <- result{receipt: receipt, err: err}
	}()

	select {
	case res := <-done:
		return res.receipt, res.err
	case <-callCtx.Done():
	}
	// The registry may still report the transaction it submitted.
	grace := time.NewTimer(pendingGrace)
	defer grace.Stop()
	select {
	case res := <-done:
		return res.receipt, res.err
	case <-grace.C:
		return TxReceipt{}, callCtx.Err()
	}
}

// resume settles a write left pending by an earlier timeout. A non-empty
// reference means the earlier write is confirmed; an error means it is still
// unresolved; neither means it never landed and a fresh write is needed.
func (c *Client) resume(callCtx context.Context, productID string, fp domain.Fingerprint, prior domain.LedgerReference) (domain.LedgerReference, error) {
	if awaiter, ok := c.registry.(ReceiptAwaiter); ok {
		_, err := awaiter.AwaitReceipt(callCtx, prior)
		switch {
		case err == nil:
			return prior, nil
		case errors.Is(err, domain.ErrLedgerRejected), errors.Is(err, domain.ErrLedgerNotFound):
			return "", nil
		default:
			return "", err
		}
	}
	stored, err := c.registry.GetProduct(callCtx, productID)
	switch {
	case err == nil && stored == fp:
		return prior, nil
	case err == nil, errors.Is(err, domain.ErrLedgerNotFound):
		return "", nil
	default:
		return "", err
	}
}

// reconcile runs after a rejected write. When the ledger already holds this
// exact fingerprint the rejection is the product's own earlier write landing
// late, and the earlier reference stands in for the new one.
func (c *Client) reconcile(callCtx context.Context, productID string, fp domain.Fingerprint, prior domain.LedgerReference) (domain.LedgerReference, error) {
	stored, err := c.registry.GetProduct(callCtx, productID)
	if err != nil || stored != fp {
		return "", nil
	}
	if prior != "" {
		return prior, nil
	}
	return "", fmt.Errorf("%w: ledger already holds product %s with this fingerprint but no submitted reference is known", domain.ErrLedgerPending, productID)
}

func (c *Client) finish(ctx, callCtx context.Context, productID string, fp domain.Fingerprint, receipt TxReceipt, err error, started time.Time) (domain.LedgerReference, error) {
	if err == nil && strings.TrimSpace(receipt.Reference.String()) == "" {
		err = fmt.Errorf("%w: registry returned no transaction reference", domain.ErrLedgerUnavailable)
	}
	err = c.classify(ctx, callCtx, err)

	ref, status := receipt.Reference, domain.AnchorStatusAnchored
	switch {
	case err == nil:
		c.mu.Lock()
		delete(c.pending, productID)
		c.mu.Unlock()
	case receipt.Pending && strings.TrimSpace(ref.String()) != "":
		status = domain.AnchorStatusPending
		c.mu.Lock()
		c.pending[productID] = submission{fp: fp, ref: ref}
		c.mu.Unlock()
	default:
		status, ref = domain.AnchorStatusFailed, ""
	}

	c.record(ctx, productID, fp, ref, status, err, c.now().Sub(started))
	if err != nil {
		return "", err
	}
	return ref, nil
}

// priorReference returns the newest earlier write of fp for the product that
// may be on the ledger: a pending write from this process, or a pending or
// confirmed one from the durable attempt log. A confirmed one is an anchor
// whose issuance was never persisted.
func (c *Client) priorReference(ctx context.Context, productID string, fp domain.Fingerprint) domain.LedgerReference {
	c.mu.Lock()
	sub, ok := c.pending[productID]
	c.mu.Unlock()
	if ok && sub.fp == fp {
		return sub.ref
	}

	lister, ok := c.attempts.(domain.AnchorAttemptLister)
	if !ok {
		return ""
	}
	attempts, err := lister.ListByProductID(ctx, productID)
	if err != nil {
		c.log.WithError(err).WithField("product_id", productID).Warn("list anchor attempts")
		return ""
	}
	for i := len(attempts) - 1; i >= 0; i-- {
		a := attempts[i]
		if a.Fingerprint != fp || a.LedgerReference == "" {
			continue
		}
		if a.Status == domain.AnchorStatusPending || a.Status == domain.AnchorStatusAnchored {
			return a.LedgerReference
		}
	}
	return ""
}

func (c *Client) Lookup(ctx context.Context, productID string) (domain.Fingerprint, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		fp  domain.Fingerprint
		err error
	}
	done := make(chan result, 1)
	go func() {
		fp, err := c.registry.GetProduct(callCtx, productID)
		done <- result{fp: fp, err: err}
	}()

	var fp domain.Fingerprint
	var err error
	select {
	case res := <-done:
		fp, err = res.fp, res.err
	case <-callCtx.Done():
		err = callCtx.Err()
	}
	if err == nil && strings.TrimSpace(fp.String()) == "" {
		return "", domain.ErrLedgerNotFound
	}
	if errors.Is(err, domain.ErrLedgerNotFound) {
		return "", err
	}
	if err = c.classify(ctx, callCtx, err); err != nil {
		c.log.WithFields(logrus.Fields{
			"product_id": productID,
			"provider":   c.registry.Name(),
			"error_code": domain.ErrorCode(err),
		}).WithError(err).Warn("ledger lookup failed")
		return "", err
	}
	return fp, nil
}

func (c *Client) classify(parent, callCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrLedgerUnavailable),
		errors.Is(err, domain.ErrLedgerTimeout),
		errors.Is(err, domain.ErrLedgerRejected),
		errors.Is(err, domain.ErrLedgerPending):
		return err
	case errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil,
		errors.Is(callCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil:
		return fmt.Errorf("%w: no confirmation within %s", domain.ErrLedgerTimeout, c.timeout)
	case parent.Err() != nil:
		return fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, parent.Err())
	default:
		return fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
}

func (c *Client) record(ctx context.Context, productID string, fp domain.Fingerprint, ref domain.LedgerReference, status string, err error, elapsed time.Duration) {
	entry := c.log.WithFields(logrus.Fields{
		"product_id":  productID,
		"provider":    c.registry.Name(),
		"reference":   ref.String(),
		"status":      status,
		"error_code":  domain.ErrorCode(err),
		"duration_ms": elapsed.Milliseconds(),
	})
	switch status {
	case domain.AnchorStatusAnchored:
		entry.Info("anchor confirmed")
	case domain.AnchorStatusPending:
		entry.WithError(err).Warn("anchor submitted but unconfirmed")
	default:
		entry.WithError(err).Warn("anchor failed")
	}

	if c.attempts == nil {
		return
	}
	attempt := domain.AnchorAttempt{
		ProductID:       productID,
		Provider:        c.registry.Name(),
		Status:          status,
		ErrorCode:       domain.ErrorCode(err),
		Fingerprint:     fp,
		LedgerReference: ref,
		Duration:        elapsed,
		CreatedAt:       c.now().UTC(),
	}
	// Recorded even when the caller's context is already done.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if appendErr := c.attempts.Append(recordCtx, attempt); appendErr != nil {
		c.log.WithError(appendErr).WithField("product_id", productID).Warn("record anchor attempt")
	}
}
