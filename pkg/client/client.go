package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/coraldb/coral/pkg/api"
	"github.com/coraldb/coral/pkg/security"
	"github.com/coraldb/coral/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps the ClusterAdmin gRPC client for CLI and inter-node use.
type Client struct {
	conn   *grpc.ClientConn
	client api.ClusterAdminServer
}

// NewClient creates a new Client with mTLS, using an existing CLI
// certificate on disk.
func NewClient(addr string) (*Client, error) {
	certDir, err := security.GetCLICertDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get cert directory: %w", err)
	}

	if !security.CertExists(certDir) {
		return nil, fmt.Errorf("CLI certificate not found at %s - run 'coral cluster join' or request one with a join token first", certDir)
	}

	conn, err := connectWithMTLS(addr, certDir)
	if err != nil {
		return nil, fmt.Errorf("failed to connect with mTLS: %w", err)
	}

	return &Client{
		conn:   conn,
		client: api.NewClusterAdminClient(conn),
	}, nil
}

// NewClientWithToken creates a new Client, requesting a certificate with a
// join token first if one is not already on disk.
func NewClientWithToken(addr, token string) (*Client, error) {
	certDir, err := security.GetCLICertDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get cert directory: %w", err)
	}

	if !security.CertExists(certDir) {
		if err := requestCertificate(addr, token, certDir); err != nil {
			return nil, fmt.Errorf("failed to request certificate: %w", err)
		}
	}

	conn, err := connectWithMTLS(addr, certDir)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &Client{
		conn:   conn,
		client: api.NewClusterAdminClient(conn),
	}, nil
}

// NewLocalClient connects without TLS, for the loopback read-only
// listener a node exposes on its own host. Only Info and Read succeed
// over this connection; everything else is rejected server-side.
func NewLocalClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(api.Codec())),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial node: %w", err)
	}
	return &Client{
		conn:   conn,
		client: api.NewClusterAdminClient(conn),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// AddPeer asks the cluster leader to admit id@addr as a new Raft voter,
// authenticated by token. Manager.Join calls this after starting its own
// local Raft instance.
func (c *Client) AddPeer(id, addr, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := c.client.AddPeer(ctx, &api.AddPeerRequest{ID: id, Addr: addr, Token: token})
	return err
}

// RemovePeer asks the leader to remove id from the Raft configuration.
func (c *Client) RemovePeer(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := c.client.RemovePeer(ctx, &api.RemovePeerRequest{ID: id})
	return err
}

// Info returns the node's Raft role, term, and apply progress.
func (c *Client) Info() (*api.InfoResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return c.client.Info(ctx, &api.InfoRequest{})
}

// GenerateToken asks the leader to mint a join token for role.
func (c *Client) GenerateToken(role string) (string, time.Time, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := c.client.GenerateToken(ctx, &api.GenerateTokenRequest{Role: role})
	if err != nil {
		return "", time.Time{}, err
	}
	return resp.Token, resp.ExpiresAt, nil
}

// Propose submits batch for replication, returning once it has been
// applied (or rejected). The server assigns the batch its command id.
func (c *Client) Propose(batch types.CommandBatch) (types.BatchResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := c.client.Propose(ctx, &api.ProposeRequest{Batch: batch})
	if err != nil {
		return types.BatchResult{}, err
	}
	return api.FromWireResult(resp.Result), nil
}

// Read performs a read by primary key against the node's MVCC state.
// Linearizable selects the ReadIndex path; the call fails with
// NotLeader if issued against a follower while linearizable is true.
func (c *Client) Read(table string, pk types.Value, linearizable bool) (types.Row, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := c.client.Read(ctx, &api.ReadRequest{Table: table, PK: pk, Linearizable: linearizable})
	if err != nil {
		return types.Row{}, false, err
	}
	return resp.Row, resp.Found, nil
}

func requestCertificate(addr, token, certDir string) error {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			InsecureSkipVerify: true,
			MinVersion:         tls.VersionTLS13,
		})),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(api.Codec())),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to manager: %w", err)
	}
	defer conn.Close()

	adminClient := api.NewClusterAdminClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := adminClient.RequestCertificate(ctx, &api.RequestCertificateRequest{
		NodeID: "cli",
		Token:  token,
	})
	if err != nil {
		return fmt.Errorf("failed to request certificate: %w", err)
	}

	if err := os.MkdirAll(certDir, 0700); err != nil {
		return fmt.Errorf("failed to create cert directory: %w", err)
	}

	certPath := certDir + "/node.crt"
	keyPath := certDir + "/node.key"
	caPath := certDir + "/ca.crt"

	if err := os.WriteFile(certPath, resp.Certificate, 0600); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, resp.PrivateKey, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(caPath, resp.CACert, 0644); err != nil {
		return fmt.Errorf("failed to write CA certificate: %w", err)
	}

	return nil
}

func connectWithMTLS(addr, certDir string) (*grpc.ClientConn, error) {
	cert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load CLI certificate: %w", err)
	}

	caCert, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA certificate: %w", err)
	}

	certPool := x509.NewCertPool()
	certPool.AddCert(caCert)

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      certPool,
		MinVersion:   tls.VersionTLS13,
	}

	creds := credentials.NewTLS(tlsConfig)
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(api.Codec())),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial node: %w", err)
	}

	return conn, nil
}
