/*
Package security provides cryptographic services for CoralDB clusters.

This package implements three core security capabilities: secrets encryption using
AES-256-GCM, a Certificate Authority (CA) for mutual TLS (mTLS), and certificate
lifecycle management. Together, these components provide end-to-end encryption
for sensitive data at rest and TLS for the Admin RPC connections between cluster
nodes and CLI clients. Raft traffic between nodes does not use these certificates.

# Architecture

CoralDB's security architecture is built on three pillars:

	┌─────────────────────────────────────────────────────────────┐
	│                    Security Architecture                    │
	└─────┬───────────────────────┬──────────────────┬────────────┘
	      │                       │                  │
	      ▼                       ▼                  ▼
	┌─────────────┐      ┌────────────────┐   ┌──────────────┐
	│   Secrets   │      │       CA       │   │ Certificate  │
	│ Encryption  │      │  (Root + Sub)  │   │  Management  │
	└─────┬───────┘      └────────┬───────┘   └──────┬───────┘
	      │                       │                   │
	      ▼                       ▼                   ▼
	  AES-256-GCM         RSA 4096-bit          90-day rotation
	  At-rest data        10-year validity      Manual renewal

## Cluster Encryption Key

All security is rooted in the cluster encryption key, a 32-byte key derived
from the cluster ID during initialization:

	clusterKey = SHA-256(clusterID)  // 32 bytes for AES-256

This key encrypts the CA's root private key at rest (see CAData in ca.go);
it is derived deterministically from the cluster ID rather than persisted
on its own, so any replica that knows the cluster ID can recompute it
without a separate key file.

# Secrets Encryption

## SecretsManager and the package-level cluster key

Two layers exist:

  - SecretsManager wraps an arbitrary 32-byte key (or one derived from a
    password via NewSecretsManagerFromPassword) and exposes
    EncryptSecret/DecryptSecret for any caller holding that key.
  - The package-level Encrypt/Decrypt functions operate against a single
    process-wide clusterEncryptionKey, set once via
    SetClusterEncryptionKey during manager startup. CertAuthority.Save and
    CertAuthority.Load use these package-level functions to encrypt and
    decrypt the CA's root private key before it touches disk.

Both layers use the same AES-256-GCM construction:

	Plaintext → AES-256-GCM → Ciphertext + Authentication Tag
	                ↑
	            32-byte key

Key features:
  - Authenticated encryption (integrity + confidentiality)
  - Random nonce per encryption (no nonce reuse)
  - Fast performance (~100MB/s on modern CPUs)

## Encryption Process

 1. Generate random 12-byte nonce
 2. Encrypt plaintext with AES-256-GCM
 3. Prepend nonce to ciphertext
 4. Store combined bytes: [nonce || ciphertext || tag]

This ensures each secret has a unique nonce, preventing cryptographic attacks.

## CA Private Key Storage Format

The CA's root key is the only payload this package encrypts on coral's
behalf directly; everything else is handled by whatever calls
EncryptSecret/DecryptSecret:

	CAData {
		RootCertDER: [...]                    // plaintext, public
		RootKeyDER:  [nonce || ciphertext || tag]  // encrypted with the cluster key
	}

Decryption reverses the process:

 1. Extract nonce (first 12 bytes)
 2. Extract ciphertext + tag (remaining bytes)
 3. Decrypt and verify authentication tag
 4. Return plaintext or error if tampered

# Certificate Authority

## Root CA

CoralDB's CA uses a hierarchical structure with a long-lived root certificate:

	Root CA (self-signed)
	├── 10-year validity
	├── RSA 4096-bit key (high security)
	├── KeyUsage: CertSign, CRLSign
	└── Subject: CN=Coral Root CA, O=Coral Cluster

The root CA is created once, the first time a cluster is bootstrapped, and
persisted as <data_dir>/ca/ca.json:

	Root Certificate: stored in ca.json (plaintext, public)
	Root Private Key: stored in ca.json (encrypted with the cluster key)

## Node Certificates

The CA issues one certificate per cluster node — every Raft voter and any
non-voting replica alike, there is no separate node class:

	Node Certificate
	├── 90-day validity
	├── RSA 2048-bit key (faster operations)
	├── KeyUsage: DigitalSignature, KeyEncipherment
	├── ExtKeyUsage: ServerAuth, ClientAuth
	├── Subject: CN=node-{nodeID}, O=Coral Cluster
	├── DNS Names: [node-{nodeID}, localhost]
	└── IP Addresses: [node bind IP]

Each node receives a unique certificate, which it presents on its Admin RPC
TLS listener. The Raft transport between nodes is plain TCP and does not use
these certificates.

## Client Certificates

CLI clients also receive certificates for authentication, issued on demand
via a join-token-authenticated RequestCertificate Admin RPC:

	CLI Certificate
	├── 90-day validity
	├── KeyUsage: DigitalSignature, KeyEncipherment
	├── ExtKeyUsage: ClientAuth
	└── Subject: CN=cli-{clientID}, O=Coral Cluster

This allows secure CLI → node communication without passwords.

# Usage Examples

## Creating a Secrets Manager

	import "github.com/coraldb/coral/pkg/security"

	// Method 1: From raw key (32 bytes)
	key := make([]byte, 32)
	_, err := rand.Read(key)
	if err != nil {
		panic(err)
	}

	sm, err := security.NewSecretsManager(key)
	if err != nil {
		panic(err)
	}

	// Method 2: From password (key derived via SHA-256)
	sm, err := security.NewSecretsManagerFromPassword("my-cluster-secret")
	if err != nil {
		panic(err)
	}

## Encrypting and Decrypting Data

	plaintext := []byte("super-secret-value")
	ciphertext, err := sm.EncryptSecret(plaintext)
	if err != nil {
		panic(err)
	}

	// Store ciphertext wherever the caller persists it...

	decrypted, err := sm.DecryptSecret(ciphertext)
	if err != nil {
		panic(err)  // tampering detected or wrong key
	}

	fmt.Println(string(decrypted))  // "super-secret-value"

## Setting Up the Certificate Authority

	import (
		"github.com/coraldb/coral/pkg/security"
	)

	// Set the cluster encryption key (required before CA.Save/Load)
	clusterKey := security.DeriveKeyFromClusterID(clusterID)
	err := security.SetClusterEncryptionKey(clusterKey)
	if err != nil {
		panic(err)
	}

	// Create and initialize (or load) the CA, persisted under <data_dir>/ca
	ca := security.NewCertAuthority(caDir)
	if err := ca.Load(); err != nil {
		if err := ca.Initialize(); err != nil {
			panic(err)
		}
		if err := ca.Save(); err != nil {
			panic(err)
		}
	}

## Issuing Node Certificates

	nodeID := "node-1"
	dnsNames := []string{"node-node-1", "localhost"}
	ipAddresses := []net.IP{
		net.ParseIP("192.168.1.10"),
		net.ParseIP("127.0.0.1"),
	}

	tlsCert, err := ca.IssueNodeCertificate(nodeID, "node", dnsNames, ipAddresses)
	if err != nil {
		panic(err)
	}

	fmt.Println("Certificate issued for:", nodeID)
	fmt.Println("Valid until:", tlsCert.Leaf.NotAfter)

## Verifying Certificates

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		panic(err)
	}

	err = ca.VerifyCertificate(cert)
	if err != nil {
		// certificate invalid or not issued by this CA
		panic(err)
	}

## Certificate Rotation

	needsRotation := security.CertNeedsRotation(cert)

	if needsRotation {
		newTLSCert, err := ca.IssueNodeCertificate(nodeID, "node", dnsNames, ipAddresses)
		if err != nil {
			panic(err)
		}

		certDir, _ := security.GetCertDir("node", nodeID)
		err = security.SaveCertToFile(newTLSCert, certDir)
		if err != nil {
			panic(err)
		}
	}

# Integration Points

## Storage Integration

The CA's own state is a flat JSON file, not a Storage-backed bucket (it
has to be readable before a node's BoltStore is open): <data_dir>/ca/ca.json,
root key encrypted with the cluster key as described above. Node and CLI
certificates live as PEM files under <home>/.coral/certs/<role>-<id>/.

## Manager Integration

pkg/manager coordinates security operations at cluster-membership time:

  - initializeCA() → loads or creates the CA, persists it, and issues this
    node's own certificate if one doesn't already exist on disk
  - GenerateJoinToken(role) / ValidateJoinToken(token) → admission tokens
    for RequestCertificate, independent of the CA itself
  - CA() → exposes the CertAuthority to pkg/api's RequestCertificate handler

## gRPC TLS Integration

All gRPC communication uses mTLS with CA-issued certificates:

	// Server-side (any node)
	creds := credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{nodeCert},
		ClientAuth:   tls.RequestClientCert,
		ClientCAs:    certPool,  // contains root CA
	})

	// Client-side (peer node or CLI)
	creds := credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      certPool,  // contains root CA
	})

This ensures:
  - All connections encrypted (TLS 1.3)
  - Mutual authentication (both parties verified)
  - No unauthorized access (CA-signed certs required)

# Design Patterns

## Authenticated Encryption

GCM mode provides both confidentiality and integrity:

	Encryption:  plaintext + key + nonce → ciphertext + tag
	Decryption:  ciphertext + tag + key + nonce → plaintext (or error)

The authentication tag prevents tampering:
  - Modified ciphertext → decryption fails
  - Wrong key → decryption fails
  - Wrong nonce → decryption fails

## Hierarchical PKI

The CA uses a standard hierarchical structure:

	Root CA (trust anchor)
	└── Node/Client Certificates (issued by root)

Benefits:
  - Root key rarely used (only for issuing certs)
  - Revocation via CRL/OCSP (future enhancement)

## Key Derivation

The cluster encryption key is derived deterministically:

	clusterKey = SHA-256(clusterID)

This means:
  - Same cluster ID → same key (important for every replica)
  - Key can be recomputed without storage
  - Backup = cluster ID (must be kept secret!)

## Certificate Caching

The CA caches issued certificates in memory:

	certCache[id] = {Cert, Key, IssuedAt, ExpiresAt}

This avoids re-issuing a certificate for the same node/client id within a
process lifetime.

# Security Considerations

## Key Management

The cluster encryption key is critical:

  - Compromise = CA root key exposed
  - Loss = CA state unrecoverable without the cluster ID
  - Must be backed up securely (the cluster ID itself is the backup)

## Certificate Rotation

Certificates expire after 90 days (nodes/CLI) or 10 years (root CA):

  - Automatic rotation: not yet implemented
  - Manual rotation: remove the node's cert directory (RemoveCerts) and
    re-run node start; a new cert is issued only when none exists on disk,
    and an expiring cert is not replaced on its own
  - Grace period: CertNeedsRotation flags certs with <30 days remaining

## Threat Model

CoralDB's security protects against:

	✓ Network eavesdropping (TLS encryption)
	✓ Unauthorized access (mTLS authentication)
	✓ Secret tampering (authenticated encryption)
	✓ Impersonation (CA-signed certificates)

CoralDB does NOT protect against:

	✗ Compromised cluster encryption key (CA root key exposed)
	✗ Compromised CA private key (issue fake certificates)
	✗ Compromised node host (full access to that node's data)
	✗ Physical access to storage (encrypted, but key is derivable from cluster ID)

Defense in depth:
  - Encrypt storage volumes (LUKS, etc.)
  - Use secure boot and TPM
  - Audit all security operations

## Cryptographic Agility

CoralDB uses modern, proven cryptography:

  - AES-256-GCM (NIST approved, widely used)
  - RSA 2048/4096 (NIST approved, secure until ~2030)
  - SHA-256 (NIST approved, no known attacks)
  - TLS 1.3

Future considerations:
  - Ed25519 for certificates (faster, smaller)
  - Post-quantum cryptography (long-term)

# Troubleshooting

## Secret Decryption Failures

If decryption fails:

1. Check encryption key:
  - Ensure the cluster key is correct
  - Verify key derivation from the cluster ID
  - Check for key rotation events

2. Check for data corruption:
  - Verify ciphertext length (>= 28 bytes: 12 nonce + 16 tag)
  - Check storage backend integrity

3. Check for tampering:
  - GCM will detect any modification

## Certificate Verification Failures

If certificate verification fails:

1. Check CA consistency:
  - Ensure the CA is loaded correctly (ca.json present and decryptable)
  - Verify the root certificate matches across replicas

2. Check certificate validity:
  - Verify not expired (NotAfter > now)
  - Verify not used too early (NotBefore < now)

3. Check certificate content:
  - Verify DNS names match
  - Verify IP addresses match
  - Check key usage flags

# Monitoring Metrics

Key security metrics to monitor:

  - Certificate issuance rate
  - Certificate verification failures
  - Certificate expiry dates
  - CA operations (rare, should be low)

# See Also

  - pkg/manager - Cluster membership and CA/token coordination
  - pkg/api - mTLS-secured Admin RPC surface, RequestCertificate handler
  - pkg/client - CLI-side mTLS dial and certificate bootstrap
*/
package security
