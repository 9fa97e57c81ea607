// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dao

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// DefaultContractAddress is the catalyst list on Ethereum mainnet.
const DefaultContractAddress = "0x4a2f10076101650f40342885b99b6b101d83c486"

// contentPath is where a listed domain serves its content.
const contentPath = "/content"

const catalystListABIJSON = `[
	{"constant":true,"inputs":[],"name":"catalystCount","outputs":[{"name":"","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"","type":"uint256"}],"name":"catalystIds","outputs":[{"name":"","type":"bytes32"}],"payable":false,"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"","type":"bytes32"}],"name":"catalystById","outputs":[{"name":"id","type":"bytes32"},{"name":"owner","type":"address"},{"name":"domain","type":"string"}],"payable":false,"stateMutability":"view","type":"function"}
]`

var catalystListABI = parseABI(catalystListABIJSON)

// ContractCaller executes read only contract calls. It is implemented by
// *ethclient.Client.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type contractRegistry struct {
	caller  ContractCaller
	address common.Address
}

// NewContractRegistry returns a Registry reading the catalyst list contract
// at the given address.
func NewContractRegistry(caller ContractCaller, address common.Address) Registry {
	return &contractRegistry{
		caller:  caller,
		address: address,
	}
}

// DialContractRegistry connects to an Ethereum endpoint and returns a
// contract Registry together with the closer of the connection.
func DialContractRegistry(ctx context.Context, endpoint, contract string) (Registry, io.Closer, error) {
	if !common.IsHexAddress(contract) {
		return nil, nil, fmt.Errorf("invalid contract address %q", contract)
	}
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("dial eth client: %w", err)
	}
	return NewContractRegistry(client, common.HexToAddress(contract)), closerFunc(func() error {
		client.Close()
		return nil
	}), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Servers lists the content server of every catalyst in the contract.
func (r *contractRegistry) Servers(ctx context.Context) ([]string, error) {
	results, err := r.call(ctx, "catalystCount")
	if err != nil {
		return nil, err
	}
	count := abi.ConvertType(results[0], new(big.Int)).(*big.Int)
	if !count.IsInt64() {
		return nil, fmt.Errorf("catalyst count %s out of range", count)
	}

	servers := make([]string, 0, count.Int64())
	for i := int64(0); i < count.Int64(); i++ {
		results, err := r.call(ctx, "catalystIds", big.NewInt(i))
		if err != nil {
			return nil, err
		}
		id, ok := results[0].([32]byte)
		if !ok {
			return nil, fmt.Errorf("catalystIds: id is %T", results[0])
		}

		results, err = r.call(ctx, "catalystById", id)
		if err != nil {
			return nil, err
		}
		if len(results) < 3 {
			return nil, fmt.Errorf("catalystById: got %d results", len(results))
		}
		domain, ok := results[2].(string)
		if !ok {
			return nil, fmt.Errorf("catalystById: domain is %T", results[2])
		}
		domain = strings.TrimRight(strings.TrimSpace(domain), "/")
		if domain == "" {
			continue
		}
		servers = append(servers, domain+contentPath)
	}
	return servers, nil
}

func (r *contractRegistry) call(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	callData, err := catalystListABI.Pack(method, params...)
	if err != nil {
		return nil, err
	}
	result, err := r.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &r.address,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	results, err := catalystListABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return results, nil
}

func parseABI(json string) abi.ABI {
	cabi, err := abi.JSON(strings.NewReader(json))
	if err != nil {
		panic(fmt.Sprintf("error creating ABI for catalyst list contract: %v", err))
	}
	return cabi
}
