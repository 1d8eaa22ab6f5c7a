package cli

import (
	"errors"
	"fmt"
	"net"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func newEventsCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream daemon events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := ctx.client()
			conn, resp, err := websocket.DefaultDialer.DialContext(cmd.Context(), cli.eventsURL(), nil)
			if err != nil {
				return fmt.Errorf("connecting to event stream: %w", err)
			}
			if resp != nil {
				resp.Body.Close()
			}
			defer conn.Close()

			// unblock the read loop when the command context ends
			done := make(chan struct{})
			defer close(done)
			go func() {
				select {
				case <-cmd.Context().Done():
					_ = conn.Close()
				case <-done:
				}
			}()

			out := cmd.OutOrStdout()
			for {
				_, message, err := conn.ReadMessage()
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					var closeErr *websocket.CloseError
					if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
						return nil
					}
					var netErr net.Error
					if errors.As(err, &netErr) {
						return nil
					}
					return fmt.Errorf("event stream: %w", err)
				}
				fmt.Fprintln(out, string(message))
			}
		},
	}
	return cmd
}
