// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package metadata

// MimeID é um identificador MIME well-known registrado (0..127). O core só
// preserva o round-trip do id numérico; nunca interpreta o corpo das entries.
type MimeID byte

// Subconjunto do registro de MIME types well-known do RSocket, suficiente
// para composite metadata produzida ou consumida por este módulo.
const (
	MimeApplicationAvro                  MimeID = 0x00
	MimeApplicationCBOR                  MimeID = 0x01
	MimeApplicationGraphQL               MimeID = 0x02
	MimeApplicationGzip                  MimeID = 0x03
	MimeApplicationJavascript            MimeID = 0x04
	MimeApplicationJSON                  MimeID = 0x05
	MimeApplicationOctetStream           MimeID = 0x06
	MimeApplicationProtobuf              MimeID = 0x07
	MimeApplicationThrift                MimeID = 0x08
	MimeApplicationXML                   MimeID = 0x09
	MimeApplicationZip                   MimeID = 0x0A
	MimeMessageXRSocketMimeType          MimeID = 0x0B
	MimeMessageXRSocketAcceptMimeTypesV0 MimeID = 0x0C
	MimeMessageXRSocketAuthenticationV0  MimeID = 0x0D
	MimeMessageXRSocketCompositeMetadata MimeID = 0x0E
	MimeMessageXRSocketRoutingV0         MimeID = 0x0F
	MimeMessageXRSocketTracingZipkinV0   MimeID = 0x10
	MimeTextPlain                        MimeID = 0x11
)

var wellKnownNames = map[MimeID]string{
	MimeApplicationAvro:                  "application/avro",
	MimeApplicationCBOR:                  "application/cbor",
	MimeApplicationGraphQL:               "application/graphql",
	MimeApplicationGzip:                  "application/gzip",
	MimeApplicationJavascript:            "application/javascript",
	MimeApplicationJSON:                  "application/json",
	MimeApplicationOctetStream:           "application/octet-stream",
	MimeApplicationProtobuf:              "application/vnd.google.protobuf",
	MimeApplicationThrift:                "application/vnd.apache.thrift.binary",
	MimeApplicationXML:                   "application/xml",
	MimeApplicationZip:                   "application/zip",
	MimeMessageXRSocketMimeType:          "message/x.rsocket.mime-type.v0",
	MimeMessageXRSocketAcceptMimeTypesV0: "message/x.rsocket.accept-mime-types.v0",
	MimeMessageXRSocketAuthenticationV0:  "message/x.rsocket.authentication.v0",
	MimeMessageXRSocketCompositeMetadata: "message/x.rsocket.composite-metadata.v0",
	MimeMessageXRSocketRoutingV0:         "message/x.rsocket.routing.v0",
	MimeMessageXRSocketTracingZipkinV0:   "message/x.rsocket.tracing-zipkin.v0",
	MimeTextPlain:                        "text/plain",
}

// String retorna a string MIME registrada para id, ou "" se não registrado.
// O core nunca depende disso para correção de wire — só para diagnóstico.
func (id MimeID) String() string { return wellKnownNames[id] }
