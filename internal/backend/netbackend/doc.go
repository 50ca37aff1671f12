// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package netbackend shares a run file over TCP.
//
// The Server owns the run file through a coordinator and answers the line protocol of package wire.
// The Client is a backend.Backend that dials the server for every claim and keeps that connection
// until the claim is committed. The lease, not the connection, proves ownership, so a commit whose
// connection broke is retried over a fresh one. Claims are retried the same way, so a worker survives
// a dropped connection. Because the server rejects a bad token by closing the connection, a token is
// only taken as rejected after repeated closes during authentication.
package netbackend
