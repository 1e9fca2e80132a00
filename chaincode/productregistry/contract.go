package productregistry

import (
	"encoding/json"
	"fmt"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

const (
	keyPrefix   = "product:"
	storedEvent = "ProductStored"
)

// Entry is the world-state value kept per product.
type Entry struct {
	ProductID string `json:"productId"`
	DataHash  string `json:"dataHash"`
	TxID      string `json:"txId"`
}

// stub is the part of the chaincode stub the contract touches.
type stub interface {
	GetState(key string) ([]byte, error)
	PutState(key string, value []byte) error
	GetTxID() string
	SetEvent(name string, payload []byte) error
}

// Contract mirrors the Ethereum ProductRegistry: write once per product,
// read back the stored hash.
type Contract struct {
	contractapi.Contract
}

// StoreProduct records dataHash for productID and returns the transaction ID
// so the client can use it as the ledger reference.
func (c *Contract) StoreProduct(ctx contractapi.TransactionContextInterface, productID, dataHash string) (string, error) {
	return storeProduct(ctx.GetStub(), productID, dataHash)
}

// GetProduct returns the stored hash, or an empty string if none exists.
func (c *Contract) GetProduct(ctx contractapi.TransactionContextInterface, productID string) (string, error) {
	return getProduct(ctx.GetStub(), productID)
}

func storeProduct(s stub, productID, dataHash string) (string, error) {
	if productID == "" || dataHash == "" {
		return "", fmt.Errorf("productId and dataHash are required")
	}
	existing, err := s.GetState(keyPrefix + productID)
	if err != nil {
		return "", fmt.Errorf("read state: %v", err)
	}
	if existing != nil {
		return "", fmt.Errorf("product %s already exists", productID)
	}

	entry := Entry{ProductID: productID, DataHash: dataHash, TxID: s.GetTxID()}
	raw, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	if err := s.PutState(keyPrefix+productID, raw); err != nil {
		return "", fmt.Errorf("write state: %v", err)
	}
	if err := s.SetEvent(storedEvent, raw); err != nil {
		return "", fmt.Errorf("set event: %v", err)
	}
	return entry.TxID, nil
}

func getProduct(s stub, productID string) (string, error) {
	raw, err := s.GetState(keyPrefix + productID)
	if err != nil {
		return "", fmt.Errorf("read state: %v", err)
	}
	if raw == nil {
		return "", nil
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return "", fmt.Errorf("decode entry: %v", err)
	}
	return entry.DataHash, nil
}
