package main

import (
	"log"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"qrtrust/chaincode/productregistry"
)

func main() {
	cc, err := contractapi.NewChaincode(&productregistry.Contract{})
	if err != nil {
		log.Panicf("create productregistry chaincode: %v", err)
	}
	cc.Info.Title = "productregistry"
	cc.Info.Version = "1.0.0"

	if err := cc.Start(); err != nil {
		log.Panicf("start productregistry chaincode: %v", err)
	}
}
