package api

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"time"

	"github.com/coraldb/coral/pkg/coralerr"
	"github.com/coraldb/coral/pkg/security"
	"github.com/coraldb/coral/pkg/statemachine"
	"github.com/coraldb/coral/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// ClusterManager is the subset of *manager.Manager this service needs.
// Declaring it here rather than importing pkg/manager directly breaks what
// would otherwise be an import cycle: pkg/manager imports pkg/client (to
// call AddPeer from Manager.Join), and pkg/client imports pkg/api for the
// request/response types and codec. *manager.Manager satisfies this
// interface structurally, with no import back into pkg/api required.
type ClusterManager interface {
	IsLeader() bool
	LeaderAddr() string
	GetRaftStats() map[string]interface{}
	StateMachine() *statemachine.StateMachine
	Propose(types.CommandBatch) (types.BatchResult, error)
	Read(ctx context.Context, table string, pk types.Value, linearizable bool) (types.Row, bool, error)
	AddVoter(nodeID, address string) error
	RemoveServer(nodeID string) error
	ValidateJoinToken(token string) (string, error)
	MintJoinToken(role string) (string, time.Time, error)
	CA() *security.CertAuthority
	NodeID() string
}

// Server implements ClusterAdminServer: the Admin RPCs (bootstrap,
// add_peer, remove_peer, info) plus propose (the exec CLI verb's
// submission path) and request_certificate (token-authenticated client
// cert issuance for nodes and CLIs that do not have one yet).
type Server struct {
	manager ClusterManager
	grpc    *grpc.Server
	roGrpc  *grpc.Server
}

// NewServer creates a new Admin RPC server with mTLS, requesting but not
// requiring client certificates at the TLS layer so RequestCertificate
// remains reachable before a node has one; every other handler verifies
// leadership and rejects unauthenticated callers itself.
func NewServer(mgr ClusterManager) (*Server, error) {
	certDir, err := security.GetCertDir("node", mgr.NodeID())
	if err != nil {
		return nil, fmt.Errorf("failed to get cert directory: %w", err)
	}

	if !security.CertExists(certDir) {
		return nil, fmt.Errorf("manager certificate not found at %s - ensure cluster is initialized", certDir)
	}

	cert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load manager certificate: %w", err)
	}

	caCert, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA certificate: %w", err)
	}

	certPool := x509.NewCertPool()
	certPool.AddCert(caCert)

	tlsConfig := &tls.Config{
		ClientAuth:   tls.RequestClientCert,
		Certificates: []tls.Certificate{*cert},
		ClientCAs:    certPool,
		MinVersion:   tls.VersionTLS13,
	}

	creds := credentials.NewTLS(tlsConfig)
	grpcServer := grpc.NewServer(
		grpc.Creds(creds),
		grpc.ForceServerCodec(Codec()),
		grpc.UnaryInterceptor(RequestLogInterceptor()),
	)

	s := &Server{
		manager: mgr,
		grpc:    grpcServer,
	}
	RegisterClusterAdminServer(grpcServer, s)
	return s, nil
}

// Start starts the gRPC server listening on addr; it blocks until Stop is
// called or the listener fails.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.grpc.Serve(lis)
}

// StartReadOnly serves the read-only subset of ClusterAdmin (Info, Read)
// on addr with no TLS and no client certificates. Intended for a
// loopback-only listener so `coral cluster info` works on the node host
// before any CLI certificate has been issued; every mutating method is
// rejected by ReadOnlyInterceptor before it reaches a handler.
func (s *Server) StartReadOnly(addr string) error {
	srv := grpc.NewServer(
		grpc.ForceServerCodec(Codec()),
		grpc.ChainUnaryInterceptor(ReadOnlyInterceptor(), RequestLogInterceptor()),
	)
	RegisterClusterAdminServer(srv, s)
	s.roGrpc = srv

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return srv.Serve(lis)
}

// Stop gracefully stops the gRPC server and the read-only listener.
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	if s.roGrpc != nil {
		s.roGrpc.GracefulStop()
	}
}

func (s *Server) ensureLeader() error {
	if !s.manager.IsLeader() {
		return &coralerr.NotLeaderError{LeaderHint: s.manager.LeaderAddr()}
	}
	return nil
}

// Bootstrap is a no-op over the wire: forming a new cluster is a local,
// single-node operation (Manager.Bootstrap) invoked by the coral CLI
// directly against the not-yet-running node, never over an established
// Admin RPC connection. It is kept on the service so ClusterAdminServer's
// shape matches the full admin surface, and so a caller that mistakenly
// issues it against a running node gets a clear rejection rather than a
// missing method.
func (s *Server) Bootstrap(ctx context.Context, req *BootstrapRequest) (*BootstrapResponse, error) {
	return nil, fmt.Errorf("bootstrap must be run locally against an unstarted node, not over the Admin RPC connection")
}

// AddPeer validates req.Token, adds id@addr as a Raft voter (only the
// leader may do this — followers return NotLeader), and returns
// once the configuration change has committed.
func (s *Server) AddPeer(ctx context.Context, req *AddPeerRequest) (*AddPeerResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	if _, err := s.manager.ValidateJoinToken(req.Token); err != nil {
		return nil, fmt.Errorf("invalid join token: %w", err)
	}
	if err := s.manager.AddVoter(req.ID, req.Addr); err != nil {
		return nil, fmt.Errorf("failed to add peer: %w", err)
	}
	return &AddPeerResponse{}, nil
}

// RemovePeer removes id from the Raft configuration. Only the leader may
// do this.
func (s *Server) RemovePeer(ctx context.Context, req *RemovePeerRequest) (*RemovePeerResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	if err := s.manager.RemoveServer(req.ID); err != nil {
		return nil, fmt.Errorf("failed to remove peer: %w", err)
	}
	return &RemovePeerResponse{}, nil
}

// Info returns {role, term, commit_index, apply_index, log_len}
func (s *Server) Info(ctx context.Context, req *InfoRequest) (*InfoResponse, error) {
	stats := s.manager.GetRaftStats()
	resp := &InfoResponse{}
	if s.manager.IsLeader() {
		resp.Role = "leader"
	} else {
		resp.Role = "follower"
	}
	if term, ok := stats["term"].(uint64); ok {
		resp.Term = term
	}
	if lastIndex, ok := stats["last_log_index"].(uint64); ok {
		resp.CommitIndex = lastIndex
		resp.LogLen = lastIndex
	}
	if sm := s.manager.StateMachine(); sm != nil {
		resp.ApplyIndex = uint64(sm.LastApplied())
	}
	return resp, nil
}

// Propose assigns the batch a fresh command id and runs it through
// Manager.Propose. Followers reject with NotLeader rather than forward
// the write to the leader themselves.
func (s *Server) Propose(ctx context.Context, req *ProposeRequest) (*ProposeResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	sm := s.manager.StateMachine()
	if sm == nil {
		return nil, fmt.Errorf("%w: state machine not initialized", coralerr.ErrInternal)
	}
	batch := req.Batch
	batch.Id = sm.NextCommandID()
	result, err := s.manager.Propose(batch)
	if err != nil {
		return nil, err
	}
	return &ProposeResponse{Result: ToWireResult(result)}, nil
}

// Read serves the Consensus Bridge's read hook. A linearizable request
// on a follower is rejected with NotLeader immediately rather than
// forwarded; a stale request is served by any node.
func (s *Server) Read(ctx context.Context, req *ReadRequest) (*ReadResponse, error) {
	if req.Linearizable {
		if err := s.ensureLeader(); err != nil {
			return nil, err
		}
	}
	row, found, err := s.manager.Read(ctx, req.Table, req.PK, req.Linearizable)
	if err != nil {
		return nil, err
	}
	return &ReadResponse{Row: row, Found: found}, nil
}

// GenerateToken mints a join token for admitting a new node or CLI.
// Only the leader may mint tokens, and only an mTLS-authenticated caller
// reaches this far with a usable response.
func (s *Server) GenerateToken(ctx context.Context, req *GenerateTokenRequest) (*GenerateTokenResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	role := req.Role
	if role == "" {
		role = "node"
	}
	token, expires, err := s.manager.MintJoinToken(role)
	if err != nil {
		return nil, fmt.Errorf("failed to mint token: %w", err)
	}
	return &GenerateTokenResponse{Token: token, ExpiresAt: expires}, nil
}

// RequestCertificate issues a client certificate to a token-authenticated
// caller, served over the same listener (TLS requests but does not
// require a client cert, so this call succeeds before one exists).
func (s *Server) RequestCertificate(ctx context.Context, req *RequestCertificateRequest) (*RequestCertificateResponse, error) {
	if _, err := s.manager.ValidateJoinToken(req.Token); err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	ca := s.manager.CA()
	if ca == nil {
		return nil, fmt.Errorf("%w: CA not initialized", coralerr.ErrInternal)
	}
	cert, err := ca.IssueClientCertificate(req.NodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue certificate: %w", err)
	}

	certPEM, keyPEM, err := certToPEM(cert)
	if err != nil {
		return nil, fmt.Errorf("failed to encode certificate: %w", err)
	}

	return &RequestCertificateResponse{
		Certificate: certPEM,
		PrivateKey:  keyPEM,
		CACert:      pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.GetRootCACert()}),
	}, nil
}

func certToPEM(cert *tls.Certificate) (certPEM, keyPEM []byte, err error) {
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})
	key, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("unsupported private key type %T", cert.PrivateKey)
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM, nil
}
