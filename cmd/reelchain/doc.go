// Command reelchain is the operator CLI for the reelchain daemon.
//
// Every job command talks to a running daemon over its HTTP API:
//
//	reelchain job create --name beach --prompt "waves roll in" --image start.png --duration 15
//	reelchain job watch <id> --until-review
//	reelchain job continue <id> --prompt "the camera pans up"
//
// The daemon itself runs in the foreground with "reelchain daemon" (or the
// reelchaind binary). "plan" and "config" work without a daemon.
package main
