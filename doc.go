// Package fanout runs many HTTP requests concurrently on a single event loop.
//
// A [Client] accepts requests, admits them into a transfer engine up to a
// concurrency limit, and drives the engine from the host loop: a low
// frequency timer keeps transfers moving, and descriptor watchers wake the
// client as soon as the engine has progress to report. Each request ends in
// exactly one response or error event, unless it is canceled, in which case
// no event fires.
//
// # Quick Start
//
//	l, err := loop.New()
//	if err != nil {
//	    return err
//	}
//	defer l.Close()
//
//	c, err := fanout.New(l, fanout.WithConcurrency(4), fanout.WithTimeout(5*time.Second))
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	c.OnResponse(func(c *fanout.Client, req fanout.Request, resp *fanout.Response, st fanout.Stats) {
//	    fmt.Println(resp.Status, st.Total)
//	})
//	c.OnError(func(c *fanout.Client, req fanout.Request, err error, st fanout.Stats) {
//	    fmt.Println("failed:", err)
//	})
//
//	_ = l.Submit(func() {
//	    for _, u := range urls {
//	        if _, err := c.Request(fanout.Message{URL: u}); err != nil {
//	            fmt.Println(err)
//	        }
//	    }
//	})
//	return l.Run(ctx)
//
// # Requests
//
// A request is either a [Message] or a wrapped [*http.Request] from
// [FromHTTP]. Per-request options override the client defaults for
// timeout, proxy, redirects, tracing and TLS verification. [WithListener]
// attaches a listener that hears about one request before the client-level
// listeners do.
//
// # Redirects
//
// Redirects are not followed unless a positive cap is set with
// [WithMaxRedirects] or [WithRequestMaxRedirects]. When they are followed,
// the response carries the headers of the final hop and the full body.
//
// # Threading
//
// A Client is owned by the loop goroutine. All methods and listeners run
// there, so the client uses no locks. Code on other goroutines submits work
// through [loop.Loop.Submit].
package fanout
