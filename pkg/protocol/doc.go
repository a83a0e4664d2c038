// Package protocol implements the coffer request/response protocol on top
// of established transport sessions.
//
// The server side greets first, then answers requests until the client
// quits or disconnects:
//
//	server                          client
//	  |  Greeting{service, version,   |
//	  |  sessionId, authenticated} -> |
//	  |                               |
//	  |  <- Request{id, op, payload}  |
//	  |  Response{id, status, ...} -> |
//	  |            ...                |
//	  |  <- Request{id, Quit}         |
//	  |  Response{id, SUCCESS} ->     |
//	  |          (session ends)       |
//
// Sessions that failed the certificate policy are still served: the
// greeting says so, ping and quit work, and privileged operations are
// refused with a DENIED status. The policy decision is made here, not
// at the transport layer.
//
// # Server
//
//	srv := protocol.NewServer(protocol.Config{
//	    Version:  version.Version,
//	    Executor: restore.NewLocalExecutor(repoDir, destDir),
//	})
//	err := srv.Serve(ctx, session)
//
// # Client
//
//	client, err := protocol.NewClient(session)
//	results, err := client.RestoreFile(job)
//
// Audit capture is optional; give the server a log.Logger and every
// greeting, request, response, and error is recorded.
package protocol
