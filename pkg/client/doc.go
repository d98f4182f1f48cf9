/*
Package client provides a Go client for the ClusterAdmin gRPC service
implemented by pkg/api, used by the coral CLI and by Manager.Join to talk
to a running node.

# Usage

Connecting with an existing certificate:

	c, err := client.NewClient("node1.example.com:7700")
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	info, err := c.Info()

Connecting for the first time with a join token (requests a client
certificate before dialing with mTLS):

	c, err := client.NewClientWithToken("node1.example.com:7700", token)

# Certificates

Client certificates live under the directory security.GetCLICertDir()
returns (node.crt, node.key, ca.crt). NewClientWithToken calls the
RequestCertificate RPC over TLS without a client certificate and without
verifying the server's certificate (no CA certificate is on disk yet) -
the join token is the credential at that point - and persists the
response before reconnecting with mTLS.

# Wire Format

Every call here goes out using the same JSON encoding.Codec the server
forces (see pkg/api's jsonCodec): requests and responses are plain
JSON-tagged structs, not protobuf messages; no protoc-generated
client/server pair exists for this service.
*/
package client
