// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package transport implements the HTTPS transport used between IHE gateways.

# Client Usage

	client := transport.NewHTTPSClient(&transport.HTTPSConfig{
	    MinTLSVersion: transport.TLS12,
	    Certificates:  []tls.Certificate{clientCert},
	    RootCAs:       certPool,
	})

	resp, err := client.Send(ctx, gateway.URL, body, contentType, message.ActionXCPD)

Send never applies its own deadline unless HTTPSConfig.Timeout is set; the
outbound dispatcher bounds each call through the context. Answers outside
the 2xx range become a *StatusError whose message reads
"Request failed with status code N", except a 500 that carries a SOAP
envelope, which is handed back so the caller can parse the fault.

Request and response payloads are logged at debug level for interop
debugging.

# Server Usage

	server := transport.NewHTTPSServer(":8443", &transport.HTTPSConfig{
	    ClientAuth: tls.RequireAndVerifyClientCert,
	    ClientCAs:  partnerCAs,
	}, router)

The server listens with TLS when certificates are configured and in the
clear otherwise, for deployments that terminate TLS at a proxy.
*/
package transport
