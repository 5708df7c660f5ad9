package coordinator_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securedrop-lan/securedrop/internal/client"
	"github.com/securedrop-lan/securedrop/internal/config"
	"github.com/securedrop-lan/securedrop/internal/coordinator"
	"github.com/securedrop-lan/securedrop/internal/cryptoutil"
	"github.com/securedrop-lan/securedrop/internal/logging"
	"github.com/securedrop-lan/securedrop/internal/store"
	"github.com/securedrop-lan/securedrop/internal/transfer"
	"github.com/securedrop-lan/securedrop/internal/wire"
)

const testPassword = "hunter2 but twelve chars"

// writeCertPEM writes a self-signed certificate and its key into one
// PEM file, the deployment shape both sides load.
func writeCertPEM(t *testing.T, dir string) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "securedrop test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	var buf []byte
	buf = append(buf, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})...)
	buf = append(buf, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})...)

	path := filepath.Join(dir, "server.pem")
	require.NoError(t, os.WriteFile(path, buf, 0o600))
	return path
}

type testEnv struct {
	certFile string
	port     int
}

// startCoordinator runs a coordinator on an OS-chosen port and returns
// the pieces clients need to reach it.
func startCoordinator(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	certFile := writeCertPEM(t, dir)

	cfg := config.DefaultCoordinator()
	// Port 0 asks the OS for a free port.
	cfg.Port = 0
	cfg.StoreFile = filepath.Join(dir, "server.json")
	cfg.TLS.CertFile = certFile

	st, err := store.Open(cfg.StoreFile)
	require.NoError(t, err)

	coord, err := coordinator.New(cfg, st, logging.NewLogger("error"), nil)
	require.NoError(t, err)
	require.NoError(t, coord.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		coord.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &testEnv{certFile: certFile, port: coord.Port()}
}

// dial opens a fresh control session against the test coordinator.
func (e *testEnv) dial(t *testing.T) *client.Session {
	t.Helper()
	cfg := config.DefaultClient()
	cfg.Hostname = "127.0.0.1"
	cfg.Port = e.port
	cfg.TLS.CertFile = e.certFile

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := client.Dial(ctx, cfg, logging.NewLogger("error"))
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess
}

// register creates and signs in an account on a fresh session.
func (e *testEnv) register(t *testing.T, name, email string) *client.Session {
	t.Helper()
	sess := e.dial(t)
	msg, err := sess.Register(name, email, testPassword)
	require.NoError(t, err)
	require.Empty(t, msg)
	return sess
}

func TestRegisterAndLogin(t *testing.T) {
	env := startCoordinator(t)

	env.register(t, "Alice", "alice@example.com")

	// Duplicate registration is refused. Only the domain is
	// case-insensitive; the local part is preserved as typed.
	dup := env.dial(t)
	msg, err := dup.Register("Alice", "alice@EXAMPLE.COM", testPassword)
	require.NoError(t, err)
	assert.Equal(t, store.MsgUserExists, msg)

	// Wrong password and unknown user share one message.
	msg, err = dup.Login("alice@example.com", "not the password")
	require.NoError(t, err)
	assert.Equal(t, store.MsgInvalidLogin, msg)
	msg, err = dup.Login("nobody@example.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, store.MsgInvalidLogin, msg)

	msg, err = dup.Login("alice@example.com", testPassword)
	require.NoError(t, err)
	assert.Empty(t, msg)
}

func TestAuthRequired(t *testing.T) {
	env := startCoordinator(t)
	sess := env.dial(t)

	msg, err := sess.AddContact("Bob", "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Not authenticated.", msg)
}

func TestMutualContacts(t *testing.T) {
	env := startCoordinator(t)

	alice := env.register(t, "Alice", "alice@example.com")
	bob := env.register(t, "Bob", "bob@example.com")
	env.register(t, "Carol", "carol@example.com")

	msg, err := alice.AddContact("Bob", "bob@example.com")
	require.NoError(t, err)
	require.Empty(t, msg)
	msg, err = alice.AddContact("Carol", "carol@example.com")
	require.NoError(t, err)
	require.Empty(t, msg)
	msg, err = bob.AddContact("Alice", "alice@example.com")
	require.NoError(t, err)
	require.Empty(t, msg)

	// Carol never added Alice back, so only Bob shows up.
	contacts, err := alice.ListContacts()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"bob@example.com": "Bob"}, contacts)

	contacts, err = bob.ListContacts()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alice@example.com": "Alice"}, contacts)
}

func TestListContactsOffline(t *testing.T) {
	env := startCoordinator(t)

	alice := env.register(t, "Alice", "alice@example.com")
	bob := env.register(t, "Bob", "bob@example.com")

	msg, err := alice.AddContact("Bob", "bob@example.com")
	require.NoError(t, err)
	require.Empty(t, msg)
	msg, err = bob.AddContact("Alice", "alice@example.com")
	require.NoError(t, err)
	require.Empty(t, msg)

	require.NoError(t, bob.Close())

	// Give the coordinator time to tear down Bob's session.
	assert.Eventually(t, func() bool {
		contacts, err := alice.ListContacts()
		return err == nil && len(contacts) == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestTransferRequestChecks(t *testing.T) {
	env := startCoordinator(t)

	alice := env.register(t, "Alice", "alice@example.com")
	env.register(t, "Bob", "bob@example.com")

	info := wire.FileInfo{Name: "notes.txt", Size: 11, SHA256: "26c60a61d01db5836ca70fefd44a6a016620413c8ef5f259a6c5612d4f79d3b8"}

	msg, err := alice.RequestTransfer("nobody@example.com", info)
	require.NoError(t, err)
	assert.Equal(t, "User [nobody@example.com] is not online", msg)

	// Bob is online but has not added Alice.
	msg, err = alice.RequestTransfer("bob@example.com", info)
	require.NoError(t, err)
	assert.Equal(t, "User [alice@example.com] has not added you as a contact", msg)
}

func TestTransferBrokerage(t *testing.T) {
	env := startCoordinator(t)

	alice := env.register(t, "Alice", "alice@example.com")
	bob := env.register(t, "Bob", "bob@example.com")

	msg, err := bob.AddContact("Alice", "alice@example.com")
	require.NoError(t, err)
	require.Empty(t, msg)

	info := wire.FileInfo{Name: "notes.txt", Size: 11, SHA256: "26c60a61d01db5836ca70fefd44a6a016620413c8ef5f259a6c5612d4f79d3b8"}
	msg, err = alice.RequestTransfer("bob@example.com", info)
	require.NoError(t, err)
	require.Empty(t, msg)

	pending, err := bob.Poll()
	require.NoError(t, err)
	require.Equal(t, map[string]wire.FileInfo{"alice@example.com": info}, pending)

	token, err := bob.Accept("alice@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	require.NoError(t, bob.SendPort(45678))

	port, gotToken, err := alice.AwaitPortToken()
	require.NoError(t, err)
	assert.Equal(t, 45678, port)
	assert.Equal(t, token, gotToken)

	// The accepted request left the queue.
	pending, err = bob.Poll()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestTransferDeny(t *testing.T) {
	env := startCoordinator(t)

	alice := env.register(t, "Alice", "alice@example.com")
	bob := env.register(t, "Bob", "bob@example.com")

	msg, err := bob.AddContact("Alice", "alice@example.com")
	require.NoError(t, err)
	require.Empty(t, msg)

	info := wire.FileInfo{Name: "notes.txt", Size: 11, SHA256: "abc"}
	msg, err = alice.RequestTransfer("bob@example.com", info)
	require.NoError(t, err)
	require.Empty(t, msg)

	require.NoError(t, bob.Deny())

	port, token, err := alice.AwaitPortToken()
	require.NoError(t, err)
	assert.Zero(t, port)
	assert.Empty(t, token)

	pending, err := bob.Poll()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAcceptWithoutPending(t *testing.T) {
	env := startCoordinator(t)
	bob := env.register(t, "Bob", "bob@example.com")

	token, err := bob.Accept("alice@example.com")
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestRepeatedRequestOverwrites(t *testing.T) {
	env := startCoordinator(t)

	alice := env.register(t, "Alice", "alice@example.com")
	bob := env.register(t, "Bob", "bob@example.com")

	msg, err := bob.AddContact("Alice", "alice@example.com")
	require.NoError(t, err)
	require.Empty(t, msg)

	first := wire.FileInfo{Name: "old.txt", Size: 1, SHA256: "aa"}
	second := wire.FileInfo{Name: "new.txt", Size: 2, SHA256: "bb"}
	for _, info := range []wire.FileInfo{first, second} {
		msg, err = alice.RequestTransfer("bob@example.com", info)
		require.NoError(t, err)
		require.Empty(t, msg)
	}

	pending, err := bob.Poll()
	require.NoError(t, err)
	assert.Equal(t, map[string]wire.FileInfo{"alice@example.com": second}, pending)
}

// TestEndToEndTransfer drives the whole flow: brokerage through the
// coordinator, then the direct leg between the two peers.
func TestEndToEndTransfer(t *testing.T) {
	env := startCoordinator(t)

	alice := env.register(t, "Alice", "alice@example.com")
	bob := env.register(t, "Bob", "bob@example.com")

	msg, err := bob.AddContact("Alice", "alice@example.com")
	require.NoError(t, err)
	require.Empty(t, msg)

	dir := t.TempDir()
	inPath := filepath.Join(dir, "report.pdf")
	payload := make([]byte, 10000)
	_, err = rand.Read(payload)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(inPath, payload, 0o600))
	sum, err := cryptoutil.HashFile(inPath)
	require.NoError(t, err)

	msg, err = alice.RequestTransfer("bob@example.com", wire.FileInfo{
		Name: "report.pdf", Size: int64(len(payload)), SHA256: sum,
	})
	require.NoError(t, err)
	require.Empty(t, msg)

	token, err := bob.Accept("alice@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	tlsCfg := config.TLSConfig{CertFile: env.certFile}
	serverTLS, err := tlsCfg.ServerTLSConfig()
	require.NoError(t, err)
	clientTLS, err := tlsCfg.ClientTLSConfig()
	require.NoError(t, err)

	outDir := t.TempDir()
	receiver := &transfer.Receiver{Token: token, OutDir: outDir, TLSConfig: serverTLS}
	require.NoError(t, receiver.Listen())
	require.NoError(t, bob.SendPort(receiver.Port()))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	recvCh := make(chan error, 1)
	go func() {
		_, err := receiver.Run(ctx)
		recvCh <- err
	}()

	port, gotToken, err := alice.AwaitPortToken()
	require.NoError(t, err)
	require.Equal(t, receiver.Port(), port)

	sender := &transfer.Sender{
		Host:      "127.0.0.1",
		Port:      port,
		Token:     gotToken,
		FilePath:  inPath,
		SHA256:    sum,
		TLSConfig: clientTLS,
	}
	require.NoError(t, sender.Run(ctx))
	require.NoError(t, <-recvCh)

	got, err := os.ReadFile(filepath.Join(outDir, "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
