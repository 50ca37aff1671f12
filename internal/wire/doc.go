// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package wire is the line protocol spoken between a linerun server and its workers.
//
// Every message is one line of space separated fields terminated by "\n". The last field of
// JOB, STATUS and ERR is free text running to the end of the line.
//
//	AUTH <token> <host> <pid>            -> OK, or the connection is closed
//	CLAIM                                -> JOB <number> <lease> <command> | NONE
//	STATUS <lease> <pid> <stream> <text>    (no reply)
//	COMMIT <lease> <marker> <exit> <pid> -> OK | ERR <message>
package wire
