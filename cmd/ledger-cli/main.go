// Command ledger-cli is the interactive shell over the chained key/value
// store: mine-and-sign mutations, batching, state queries, snapshot I/O,
// and the signing-key lifecycle.
package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/ledgerdb/ledgerdb/internal/kvchain"
	"github.com/ledgerdb/ledgerdb/internal/log"
	"github.com/ledgerdb/ledgerdb/pkg/crypto"
)

// defaultDifficulty is the starting PoW difficulty for a fresh session.
const defaultDifficulty = 3

func main() {
	os.Exit(run())
}

type shell struct {
	chain  *kvchain.Chain
	signer *crypto.Ed25519Signer
	server *kvchain.Server
	out    *bufio.Writer
}

func run() int {
	log.Init("warn", false, "")

	sh := &shell{
		chain: kvchain.New(defaultDifficulty),
		out:   bufio.NewWriter(os.Stdout),
	}

	sh.printf("chain-kv — PoW + signatures + merkle + batching\n")
	sh.printHelp()
	sh.printf("\n")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		sh.printf("chain-kv> ")
		sh.out.Flush()
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !sh.dispatch(strings.Fields(line)) {
			break
		}
	}
	sh.out.Flush()
	return 0
}

func (sh *shell) printf(format string, args ...any) {
	fmt.Fprintf(sh.out, format, args...)
}

// dispatch runs one command; returns false to exit the loop.
func (sh *shell) dispatch(parts []string) bool {
	switch cmd := parts[0]; {
	case cmd == "set" && len(parts) >= 3:
		sh.cmdSet(parts[1], strings.Join(parts[2:], " "))
	case cmd == "del" && len(parts) == 2:
		sh.cmdDel(parts[1])
	case cmd == "begin":
		if err := sh.chain.BeginBatch(); err != nil {
			sh.printf("error: %v\n", err)
		} else {
			sh.printf("batch started\n")
		}
	case cmd == "addput" && len(parts) >= 3:
		if err := sh.chain.AddPut(parts[1], strings.Join(parts[2:], " ")); err != nil {
			sh.printf("error: %v\n", err)
		} else {
			sh.printf("added put\n")
		}
	case cmd == "adddel" && len(parts) == 2:
		if err := sh.chain.AddDel(parts[1]); err != nil {
			sh.printf("error: %v\n", err)
		} else {
			sh.printf("added del\n")
		}
	case cmd == "commit":
		sh.cmdCommit()
	case cmd == "abort":
		sh.chain.AbortBatch()
		sh.printf("batch aborted\n")
	case cmd == "get" && len(parts) == 2:
		if v, ok := sh.chain.Get(parts[1]); ok {
			sh.printf("%s\n", v)
		} else {
			sh.printf("not found\n")
		}
	case cmd == "state":
		sh.cmdState()
	case cmd == "verify":
		if err := sh.chain.VerifyAll(); err != nil {
			sh.printf("verify failed: %v\n", err)
		} else {
			sh.printf("chain ok (%d blocks, difficulty %d)\n", sh.chain.Len(), sh.chain.Difficulty())
		}
	case cmd == "save" && len(parts) == 2:
		if err := sh.chain.Save(parts[1]); err != nil {
			sh.printf("save error: %v\n", err)
		} else {
			sh.printf("saved %s\n", parts[1])
		}
	case cmd == "load" && len(parts) == 2:
		sh.cmdLoad(parts[1])
	case cmd == "keygen" && (len(parts) == 2 || len(parts) == 3):
		sh.cmdKeygen(parts[1:])
	case cmd == "loadkey" && len(parts) == 2:
		sh.cmdLoadKey(parts[1])
	case cmd == "whoami":
		if sh.signer == nil {
			sh.printf("(no key loaded)\n")
		} else {
			sh.printf("pubkey=%s\n", hex.EncodeToString(sh.signer.PublicKey()))
		}
	case cmd == "difficulty" && len(parts) == 2:
		sh.cmdDifficulty(parts[1])
	case cmd == "serve" && len(parts) == 2:
		sh.cmdServe(parts[1])
	case cmd == "help":
		sh.printHelp()
	case cmd == "exit":
		return false
	default:
		sh.printf("unknown command. type: help\n")
	}
	return true
}

func (sh *shell) progress() kvchain.ProgressFunc {
	return func(p kvchain.MineProgress) {
		short := p.Candidate
		if len(short) > 8 {
			short = short[:8]
		}
		fmt.Fprintf(os.Stderr, "\rmining… nonce=%-12d rate=%.0f H/s last=%s", p.Nonce, p.HashRate, short)
	}
}

func (sh *shell) cmdSet(key, value string) {
	if sh.signer == nil {
		sh.printf("no signing key loaded. Use: loadkey <file>\n")
		return
	}
	blk, err := sh.chain.AppendSigned([]kvchain.Op{kvchain.Put(key, value)}, sh.signer, sh.progress())
	fmt.Fprintln(os.Stderr)
	if err != nil {
		sh.printf("error: %v\n", err)
		return
	}
	sh.printf("mined block %d (nonce %d)\n", blk.Index, blk.Nonce)
}

func (sh *shell) cmdDel(key string) {
	if sh.signer == nil {
		sh.printf("no signing key loaded. Use: loadkey <file>\n")
		return
	}
	blk, err := sh.chain.AppendSigned([]kvchain.Op{kvchain.Del(key)}, sh.signer, sh.progress())
	fmt.Fprintln(os.Stderr)
	if err != nil {
		sh.printf("error: %v\n", err)
		return
	}
	sh.printf("mined block %d (nonce %d)\n", blk.Index, blk.Nonce)
}

func (sh *shell) cmdCommit() {
	if sh.signer == nil {
		sh.printf("no signing key loaded. Use: loadkey <file>\n")
		return
	}
	n, err := sh.chain.CommitBatch(sh.signer, sh.progress())
	fmt.Fprintln(os.Stderr)
	if err != nil {
		sh.printf("error: %v\n", err)
		return
	}
	sh.printf("committed %d ops\n", n)
}

func (sh *shell) cmdState() {
	state := sh.chain.Materialize()
	if len(state) == 0 {
		sh.printf("(empty)\n")
		return
	}
	for k, v := range state {
		sh.printf("%s = %s\n", k, v)
	}
}

func (sh *shell) cmdLoad(path string) {
	loaded, err := kvchain.Load(path)
	if err != nil {
		sh.printf("load error: %v\n", err)
		return
	}
	sh.chain = loaded
	if sh.server != nil {
		sh.printf("note: running server still serves the previous chain; restart serve\n")
	}
	sh.printf("loaded chain (%d blocks) | difficulty=%d\n", loaded.Len(), loaded.Difficulty())
}

func (sh *shell) cmdKeygen(args []string) {
	encrypt := false
	path := args[0]
	if path == "--encrypt" && len(args) == 2 {
		encrypt = true
		path = args[1]
	} else if len(args) == 2 && args[1] == "--encrypt" {
		encrypt = true
	}

	if _, err := os.Stat(path); err == nil {
		sh.printf("file exists; will overwrite.\n")
	}

	signer, err := crypto.GenerateEd25519()
	if err != nil {
		sh.printf("keygen error: %v\n", err)
		return
	}

	if encrypt {
		pass, err := sh.readPassphrase("passphrase: ")
		if err != nil {
			sh.printf("keygen error: %v\n", err)
			return
		}
		confirm, err := sh.readPassphrase("confirm: ")
		if err != nil {
			sh.printf("keygen error: %v\n", err)
			return
		}
		if string(pass) != string(confirm) {
			sh.printf("passphrases do not match\n")
			return
		}
		if err := crypto.SaveEncryptedKeyFile(path, signer, pass, crypto.DefaultEncryptionParams()); err != nil {
			sh.printf("keygen error: %v\n", err)
			return
		}
	} else if err := crypto.SaveKeyFile(path, signer); err != nil {
		sh.printf("keygen error: %v\n", err)
		return
	}
	sh.printf("keypair saved to %s\n", path)
}

func (sh *shell) cmdLoadKey(path string) {
	var signer *crypto.Ed25519Signer
	var err error
	if crypto.IsEncryptedKeyFile(path) {
		var pass []byte
		pass, err = sh.readPassphrase("passphrase: ")
		if err == nil {
			signer, err = crypto.LoadEncryptedKeyFile(path, pass)
		}
	} else {
		signer, err = crypto.LoadKeyFile(path)
	}
	if err != nil {
		sh.printf("loadkey error: %v\n", err)
		return
	}
	sh.signer = signer
	if sh.server != nil {
		sh.server.SetSigner(signer)
	}
	sh.printf("loaded key. pubkey=%s\n", hex.EncodeToString(signer.PublicKey()))
}

// readPassphrase prompts without echo when stdin is a terminal.
func (sh *shell) readPassphrase(prompt string) ([]byte, error) {
	sh.printf("%s", prompt)
	sh.out.Flush()
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pass, err := term.ReadPassword(fd)
		sh.printf("\n")
		return pass, err
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

func (sh *shell) cmdDifficulty(arg string) {
	n, err := strconv.Atoi(arg)
	if err != nil || sh.chain.SetDifficulty(n) != nil {
		sh.printf("choose %d..%d\n", kvchain.MinDifficulty, kvchain.MaxDifficulty)
		return
	}
	sh.printf("difficulty set to %d\n", n)
}

func (sh *shell) cmdServe(portArg string) {
	port, err := strconv.Atoi(portArg)
	if err != nil || port <= 0 || port > 65535 {
		sh.printf("invalid port %q\n", portArg)
		return
	}
	if sh.server != nil {
		sh.printf("server already running\n")
		return
	}
	server := kvchain.NewServer(sh.chain)
	if sh.signer != nil {
		server.SetSigner(sh.signer)
	}
	if err := server.Start(fmt.Sprintf("0.0.0.0:%d", port)); err != nil {
		sh.printf("serve error: %v\n", err)
		return
	}
	sh.server = server
	sh.printf("serving on 0.0.0.0:%d\n", port)
}

func (sh *shell) printHelp() {
	sh.printf(`Commands:
  set <key> <value...>      - mine+sign single-op block (shows PoW progress)
  del <key>                 - mine+sign single-op block
  begin                     - begin batch
  addput <key> <value...>   - add op to batch
  adddel <key>              - add op to batch
  commit                    - mine+sign a multi-op block
  abort                     - drop current batch
  get <key>                 - read value from materialized state
  state                     - dump state
  verify                    - verify PoW, signatures, and links
  save <file>               - save chain JSON
  load <file>               - load chain JSON (verified first)
  keygen [--encrypt] <file> - generate Ed25519 keypair JSON
  loadkey <file>            - load signing key
  whoami                    - show loaded public key
  difficulty <n>            - set PoW difficulty (1..9)
  serve <port>              - start the HTTP server on port
  help                      - show this help
  exit                      - quit
`)
}
