/*
Package api implements the ClusterAdmin gRPC service: the cluster
administration surface external operators and the coral CLI use to form a
cluster, change its membership, inspect Raft status, submit a command
batch, and bootstrap a new node's mTLS identity.

# Architecture

	┌──────────────── coral CLI / operator tooling ───────────────┐
	│                                                               │
	│  ┌──────────────────────────────────────────────┐           │
	│  │   ClusterAdmin gRPC client (mTLS)             │           │
	│  └──────────────────┬───────────────────────────┘           │
	└─────────────────────┼────────────────────────────────────────┘
	                      │ gRPC
	                      │
	┌─────────────────────▼──────────── NODE ──────────────────────┐
	│                                                               │
	│  ┌──────────────────────────────────────────────┐           │
	│  │   ClusterAdmin gRPC server (pkg/api)          │           │
	│  │   - Bootstrap / AddPeer / RemovePeer / Info   │           │
	│  │   - Propose / Read / GenerateToken            │           │
	│  │   - RequestCertificate                        │           │
	│  └──────────────────┬───────────────────────────┘           │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐           │
	│  │              Manager                          │           │
	│  │  - owns *raft.Raft and the StateMachine       │           │
	│  └────────────────────────────────────────────────┘          │
	└───────────────────────────────────────────────────────────────┘

# RPC Surface

The core admin surface has four RPCs: bootstrap, add_peer, remove_peer,
info. This package's ClusterAdminServer interface adds four more:
Propose, the wire path the exec CLI verb uses to submit a CommandBatch
(standing in for the out-of-scope SQL frontend's own transport); Read,
its read-path counterpart; GenerateToken, leader-only minting of join
tokens; and RequestCertificate, the token-authenticated
client-certificate bootstrap call a brand-new node or CLI installation
needs before it has any certificate to present at all.
Bootstrap itself is present on the interface for shape-completeness but is
rejected over the wire — forming a cluster is inherently a local operation
against a node that has not yet joined anything (see Manager.Bootstrap).

# Hand-Written Service Descriptor

This service is not generated from a .proto file by protoc; rpc.go
hand-writes
what protoc would otherwise produce:

  - plain Go structs with json tags standing in for proto.Message request/
    response types (BootstrapRequest, InfoResponse, ...)
  - a grpc.ServiceDesc (ClusterAdminServiceDesc) mapping RPC names to
    handler functions, exactly the shape protoc-gen-go-grpc emits
  - a json encoding.Codec registered under the name "json" and forced on
    both ends (grpc.ForceServerCodec / grpc.ForceCodec) so the wire format
    is JSON instead of the protobuf binary format, without touching any
    other part of grpc's transport, TLS, or interceptor pipeline

This keeps the real grpc.Server / grpc.ClientConn machinery - dialing,
streaming, interceptors, credentials - genuinely exercised.

A second, loopback-only listener (Server.StartReadOnly) serves the same
service with no TLS behind ReadOnlyInterceptor, which rejects everything
except Info and Read; it exists so node-local tooling can inspect a node
before any certificate has been issued.

# mTLS

Certificates are issued by the cluster's security.CertAuthority (pkg/
security). A node's own certificate is loaded from disk at startup;
RequestCertificate lets a new node or CLI installation obtain one by
presenting a join token in place of a certificate, which is why the TLS
config uses RequestClientCert (request, don't require) rather than
RequireAndVerifyClientCert - every other handler enforces its own
authorization (leadership, token validation) instead of relying purely on
the TLS handshake.

# Usage

	mgr, err := manager.NewManager(cfg)
	if err != nil {
		log.Fatal(err)
	}

	srv, err := api.NewServer(mgr)
	if err != nil {
		log.Fatal(err)
	}

	if err := srv.Start("0.0.0.0:7700"); err != nil {
		log.Fatal(err)
	}
*/
package api
