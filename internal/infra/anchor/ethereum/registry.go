package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"qrtrust/internal/domain"
	"qrtrust/internal/infra/anchor"
)

// ProductRegistryABI covers the two functions of contracts/ProductRegistry.sol.
const ProductRegistryABI = `[
 {"inputs":[{"internalType":"string","name":"productId","type":"string"},{"internalType":"string","name":"dataHash","type":"string"}],
  "name":"storeProduct","outputs":[],"stateMutability":"nonpayable","type":"function"},
 {"inputs":[{"internalType":"string","name":"productId","type":"string"}],
  "name":"getProduct","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

const defaultReceiptPoll = time.Second

type Config struct {
	RPCURL          string
	ContractAddress string
	// AccountKeyHex is the funded sender key, hex encoded with or without 0x.
	AccountKeyHex string
	// ChainID of 0 is resolved from the node.
	ChainID int64
	// ReceiptPoll is the receipt polling interval; zero means one second.
	ReceiptPoll time.Duration
}

// Backend is what the registry needs from a node connection.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

type Registry struct {
	backend  Backend
	contract *bind.BoundContract
	auth     *bind.TransactOpts
	closer   func()
	poll     time.Duration

	// Serializes submissions from the single sender account so nonces do not
	// collide. Receipt waits happen outside the lock.
	sendMu sync.Mutex
}

func Dial(ctx context.Context, cfg Config) (*Registry, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("ethereum rpc url is required")
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial ethereum node: %v", domain.ErrLedgerUnavailable, err)
	}
	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("%w: chain id: %v", domain.ErrLedgerUnavailable, err)
		}
	}
	auth, err := NewTransactor(cfg.AccountKeyHex, chainID)
	if err != nil {
		client.Close()
		return nil, err
	}
	reg, err := New(client, cfg.ContractAddress, auth)
	if err != nil {
		client.Close()
		return nil, err
	}
	reg.closer = client.Close
	reg.poll = cfg.ReceiptPoll
	return reg, nil
}

func New(backend Backend, contractAddress string, auth *bind.TransactOpts) (*Registry, error) {
	if backend == nil {
		return nil, errors.New("ethereum backend is required")
	}
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddress)
	}
	if auth == nil {
		return nil, errors.New("transactor is required")
	}
	parsed, err := abi.JSON(strings.NewReader(ProductRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	address := common.HexToAddress(contractAddress)
	return &Registry{
		backend:  backend,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		auth:     auth,
	}, nil
}

func NewTransactor(keyHex string, chainID *big.Int) (*bind.TransactOpts, error) {
	keyHex = strings.TrimPrefix(strings.TrimSpace(keyHex), "0x")
	if keyHex == "" {
		return nil, errors.New("ethereum account key is required")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, errors.New("ethereum account key is not a valid secp256k1 key")
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	return auth, nil
}

func (r *Registry) Name() string {
	return domain.LedgerProviderEthereum
}

func (r *Registry) StoreProduct(ctx context.Context, productID string, fp domain.Fingerprint) (anchor.TxReceipt, error) {
	tx, err := r.submit(ctx, productID, fp)
	if err != nil {
		return anchor.TxReceipt{}, classify(err)
	}
	return r.await(ctx, tx.Hash())
}

// AwaitReceipt resumes the confirmation wait for a transaction submitted by an
// earlier StoreProduct call. A hash the node has never seen keeps the wait
// going, since a dropped transaction and a slow one look the same.
func (r *Registry) AwaitReceipt(ctx context.Context, ref domain.LedgerReference) (anchor.TxReceipt, error) {
	raw := ref.String()
	if len(strings.TrimPrefix(raw, "0x")) != 2*common.HashLength {
		return anchor.TxReceipt{}, fmt.Errorf("%w: %q is not a transaction hash", domain.ErrLedgerNotFound, raw)
	}
	return r.await(ctx, common.HexToHash(raw))
}

// await polls for the receipt the same way bind.WaitMined does, but reports
// the submitted hash as pending when the context ends first.
func (r *Registry) await(ctx context.Context, hash common.Hash) (anchor.TxReceipt, error) {
	ticker := time.NewTicker(r.pollInterval())
	defer ticker.Stop()
	for {
		receipt, err := r.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return anchor.TxReceipt{}, fmt.Errorf("%w: transaction %s reverted", domain.ErrLedgerRejected, hash.Hex())
			}
			out := anchor.TxReceipt{Reference: domain.LedgerReference(hash.Hex())}
			if receipt.BlockNumber != nil {
				out.BlockNumber = receipt.BlockNumber.Uint64()
			}
			return out, nil
		}
		select {
		case <-ctx.Done():
			return anchor.TxReceipt{Reference: domain.LedgerReference(hash.Hex()), Pending: true}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Registry) pollInterval() time.Duration {
	if r.poll > 0 {
		return r.poll
	}
	return defaultReceiptPoll
}

func (r *Registry) submit(ctx context.Context, productID string, fp domain.Fingerprint) (*types.Transaction, error) {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	opts := *r.auth
	opts.Context = ctx
	return r.contract.Transact(&opts, "storeProduct", productID, fp.String())
}

func (r *Registry) GetProduct(ctx context.Context, productID string) (domain.Fingerprint, error) {
	var out []interface{}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getProduct", productID); err != nil {
		return "", classify(err)
	}
	if len(out) == 0 {
		return "", domain.ErrLedgerNotFound
	}
	value := *abi.ConvertType(out[0], new(string)).(*string)
	if value == "" {
		return "", domain.ErrLedgerNotFound
	}
	return domain.Fingerprint(value), nil
}

func (r *Registry) Close() {
	if r.closer != nil {
		r.closer()
	}
}

// classify maps node and contract errors onto ledger errors. Context errors
// pass through so the anchor client can tell timeouts from cancellation.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"execution reverted", "revert", "already exists", "insufficient funds", "nonce too low", "gas required exceeds"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", domain.ErrLedgerRejected, err)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
}
