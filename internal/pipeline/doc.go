// Package pipeline models the site request pipeline as an immutable,
// ordered Sequence of named stages and dispatches requests through it.
//
// A stage unit is ordinary net/http middleware. Calling next passes the
// request on; writing a response without calling next terminates it;
// calling Fault (or panicking) hands the request to the error handler.
// Requests that reach the end of the sequence go to the Renderer.
package pipeline
