package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ledgerdb/ledgerdb/config"
	"github.com/ledgerdb/ledgerdb/internal/chain"
	"github.com/ledgerdb/ledgerdb/internal/miner"
	"github.com/ledgerdb/ledgerdb/internal/storage"
	"github.com/ledgerdb/ledgerdb/pkg/crypto"
	"github.com/ledgerdb/ledgerdb/pkg/tx"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// testServer builds an initialized ledger and an httptest server over the
// same mux the RPC server installs.
func testServer(t *testing.T) (*httptest.Server, *chain.Chain, types.Address, *crypto.Ed25519Signer) {
	t.Helper()

	signer, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519() error: %v", err)
	}
	addr := crypto.AddressFromPubKey(signer.PublicKey())

	p := config.DefaultParams()
	p.InitialDifficulty = 4
	p.MinFee = 0

	ledger, err := chain.Open(storage.NewMemory(), p, crypto.Ed25519Verifier{}, miner.Config{})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := ledger.InitGenesis(addr, uint64(time.Now().Unix())-100); err != nil {
		t.Fatalf("InitGenesis() error: %v", err)
	}

	s := NewServer(ledger)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, ledger, addr, signer
}

func getJSON(t *testing.T, url string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s status = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s response: %v", url, err)
		}
	}
}

func postJSON(t *testing.T, url string, body any, wantStatus int, out any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s error: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s status = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s response: %v", url, err)
		}
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts, _, _, _ := testServer(t)

	var stats chain.Stats
	getJSON(t, ts.URL+"/status", http.StatusOK, &stats)
	if stats.Height != 0 || stats.Blocks != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestBlockEndpointByHeightAndHash(t *testing.T) {
	ts, ledger, _, _ := testServer(t)

	tipHash, _ := ledger.TipHash()

	var byHeight struct {
		Index uint64 `json:"index"`
	}
	getJSON(t, ts.URL+"/block/0", http.StatusOK, &byHeight)
	if byHeight.Index != 0 {
		t.Errorf("block by height index = %d", byHeight.Index)
	}

	getJSON(t, ts.URL+"/block/"+tipHash.String(), http.StatusOK, nil)
	getJSON(t, ts.URL+"/block/99", http.StatusNotFound, nil)
	getJSON(t, ts.URL+"/block/nothex", http.StatusBadRequest, nil)
}

func TestBalanceAndUTXOEndpoints(t *testing.T) {
	ts, _, addr, _ := testServer(t)

	var bal BalanceResp
	getJSON(t, fmt.Sprintf("%s/balance/%s", ts.URL, addr), http.StatusOK, &bal)
	if bal.Balance != config.DefaultParams().InitialReward {
		t.Errorf("balance = %d", bal.Balance)
	}

	var utxos []json.RawMessage
	getJSON(t, fmt.Sprintf("%s/utxos/%s", ts.URL, addr), http.StatusOK, &utxos)
	if len(utxos) != 1 {
		t.Errorf("utxos = %d entries, want 1", len(utxos))
	}

	getJSON(t, ts.URL+"/balance/zzz", http.StatusBadRequest, nil)
}

func TestMineAndSubmitEndpoints(t *testing.T) {
	ts, ledger, addr, signer := testServer(t)

	// Mine a block over RPC.
	var mined MineResp
	postJSON(t, ts.URL+"/mine", MineReq{MinerAddress: addr.String()}, http.StatusOK, &mined)
	if !mined.Appended || mined.Outcome != "found" {
		t.Fatalf("mine response = %+v", mined)
	}
	if height, _ := ledger.Height(); height != 1 {
		t.Errorf("height after mine = %d, want 1", height)
	}

	// Submit a spend of the genesis coinbase over RPC.
	genesisBlock, _ := ledger.GetBlockByHeight(0)
	coinbase := genesisBlock.Transactions[0]
	b := tx.NewBuilder(uint64(time.Now().Unix())).
		AddInput(types.Outpoint{TxID: coinbase.Hash(), Index: 0}).
		AddOutput(config.DefaultParams().InitialReward-1000, addr)
	if err := b.Sign(signer); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	var submitted SubmitResp
	postJSON(t, ts.URL+"/tx", b.Build(), http.StatusAccepted, &submitted)
	if submitted.TxHash != b.Build().Hash() {
		t.Error("submit response hash mismatch")
	}

	var pool MempoolResp
	getJSON(t, ts.URL+"/mempool", http.StatusOK, &pool)
	if pool.Count != 1 {
		t.Errorf("mempool count = %d, want 1", pool.Count)
	}

	// Pending transaction is visible through /tx.
	var lookedUp TxResp
	getJSON(t, ts.URL+"/tx/"+submitted.TxHash.String(), http.StatusOK, &lookedUp)
	if !lookedUp.Pending {
		t.Error("submitted transaction not reported pending")
	}

	// A second submission of the same transaction is rejected.
	postJSON(t, ts.URL+"/tx", b.Build(), http.StatusUnprocessableEntity, nil)
}
