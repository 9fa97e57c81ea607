// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dao_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/catalystnet/catalyst/pkg/dao"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
)

// catalystListContract answers catalyst list calls from an in memory list
// of domains.
type catalystListContract struct {
	address common.Address
	domains []string
	err     error
}

func (c *catalystListContract) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	if call.To == nil || *call.To != c.address {
		return nil, fmt.Errorf("unexpected contract %v", call.To)
	}
	method, err := dao.CatalystListABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "catalystCount":
		return method.Outputs.Pack(big.NewInt(int64(len(c.domains))))
	case "catalystIds":
		i := args[0].(*big.Int).Int64()
		var id [32]byte
		id[31] = byte(i + 1)
		return method.Outputs.Pack(id)
	case "catalystById":
		id := args[0].([32]byte)
		return method.Outputs.Pack(id, common.HexToAddress("0x01"), c.domains[int(id[31])-1])
	}
	return nil, fmt.Errorf("unexpected method %s", method.Name)
}

func TestContractRegistry(t *testing.T) {
	address := common.HexToAddress(dao.DefaultContractAddress)
	contract := &catalystListContract{
		address: address,
		domains: []string{"https://peer.example.com", "peer-2.example.com/", " "},
	}

	got, err := dao.NewContractRegistry(contract, address).Servers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"https://peer.example.com/content", "peer-2.example.com/content"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("servers mismatch (-want +got):\n%s", diff)
	}
}

func TestContractRegistryError(t *testing.T) {
	errCall := errors.New("call failed")
	address := common.HexToAddress(dao.DefaultContractAddress)

	_, err := dao.NewContractRegistry(&catalystListContract{address: address, err: errCall}, address).Servers(context.Background())
	if !errors.Is(err, errCall) {
		t.Fatalf("got error %v, want %v", err, errCall)
	}
}
