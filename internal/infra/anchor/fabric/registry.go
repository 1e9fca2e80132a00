package fabric

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperledger/fabric-sdk-go/pkg/core/config"
	"github.com/hyperledger/fabric-sdk-go/pkg/gateway"

	"qrtrust/internal/domain"
	"qrtrust/internal/infra/anchor"
)

const defaultIdentity = "qrtrust-issuer"

type Config struct {
	ConnectionProfile string
	WalletPath        string
	Identity          string
	Channel           string
	Chaincode         string
	MSPID             string
	CertPath          string
	KeyPath           string
}

// Contract is the subset of *gateway.Contract the registry calls.
type Contract interface {
	SubmitTransaction(name string, args ...string) ([]byte, error)
	EvaluateTransaction(name string, args ...string) ([]byte, error)
}

// Registry talks to the productregistry chaincode through a Fabric gateway.
// StoreProduct returns the transaction ID as its chaincode result, which
// becomes the ledger reference.
type Registry struct {
	contract Contract
	closer   func()
}

func Connect(cfg Config) (*Registry, error) {
	if cfg.ConnectionProfile == "" || cfg.Channel == "" || cfg.Chaincode == "" {
		return nil, errors.New("fabric connection profile, channel and chaincode are required")
	}
	walletPath := cfg.WalletPath
	if walletPath == "" {
		walletPath = "wallet"
	}
	label := cfg.Identity
	if label == "" {
		label = defaultIdentity
	}

	wallet, err := gateway.NewFileSystemWallet(walletPath)
	if err != nil {
		return nil, fmt.Errorf("open fabric wallet: %w", err)
	}
	if !wallet.Exists(label) {
		if err := populateWallet(wallet, label, cfg); err != nil {
			return nil, fmt.Errorf("populate fabric wallet: %w", err)
		}
	}

	gw, err := gateway.Connect(
		gateway.WithConfig(config.FromFile(filepath.Clean(cfg.ConnectionProfile))),
		gateway.WithIdentity(wallet, label),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: connect fabric gateway: %v", domain.ErrLedgerUnavailable, err)
	}
	network, err := gw.GetNetwork(cfg.Channel)
	if err != nil {
		gw.Close()
		return nil, fmt.Errorf("%w: fabric channel %q: %v", domain.ErrLedgerUnavailable, cfg.Channel, err)
	}
	return &Registry{contract: network.GetContract(cfg.Chaincode), closer: gw.Close}, nil
}

func New(contract Contract) *Registry {
	return &Registry{contract: contract}
}

func (r *Registry) Name() string {
	return domain.LedgerProviderFabric
}

func (r *Registry) StoreProduct(ctx context.Context, productID string, fp domain.Fingerprint) (anchor.TxReceipt, error) {
	if err := ctx.Err(); err != nil {
		return anchor.TxReceipt{}, err
	}
	// SubmitTransaction blocks until the commit event or the profile's
	// commit timeout.
	out, err := r.contract.SubmitTransaction("StoreProduct", productID, fp.String())
	if err != nil {
		return anchor.TxReceipt{}, classify(err)
	}
	txID := strings.TrimSpace(string(out))
	if txID == "" {
		return anchor.TxReceipt{}, fmt.Errorf("%w: chaincode returned no transaction id", domain.ErrLedgerUnavailable)
	}
	return anchor.TxReceipt{Reference: domain.LedgerReference(txID)}, nil
}

func (r *Registry) GetProduct(ctx context.Context, productID string) (domain.Fingerprint, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	out, err := r.contract.EvaluateTransaction("GetProduct", productID)
	if err != nil {
		return "", classify(err)
	}
	fp := strings.TrimSpace(string(out))
	if fp == "" {
		return "", domain.ErrLedgerNotFound
	}
	return domain.Fingerprint(fp), nil
}

func (r *Registry) Close() {
	if r.closer != nil {
		r.closer()
	}
}

func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	// Commit-time read conflicts come from concurrent writers; the next
	// submission is endorsed against fresh state.
	case strings.Contains(msg, "mvcc_read_conflict"),
		strings.Contains(msg, "phantom_read_conflict"):
		return fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	case strings.Contains(msg, "already exists"),
		strings.Contains(msg, "chaincode response 500"),
		strings.Contains(msg, "endorsement failure"):
		return fmt.Errorf("%w: %v", domain.ErrLedgerRejected, err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return fmt.Errorf("%w: %v", domain.ErrLedgerTimeout, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
}

func populateWallet(wallet *gateway.Wallet, label string, cfg Config) error {
	cert, err := os.ReadFile(filepath.Clean(cfg.CertPath))
	if err != nil {
		return err
	}
	key, err := os.ReadFile(filepath.Clean(cfg.KeyPath))
	if err != nil {
		return err
	}
	return wallet.Put(label, gateway.NewX509Identity(cfg.MSPID, string(cert), string(key)))
}
