package anythread_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/joeycumines/go-anythread"
	"github.com/joeycumines/go-eventloop"
)

// Counter may only be touched by the loop goroutine.
type Counter struct {
	*anythread.EventTarget
	n int
}

func (c *Counter) Add(v int) (int, error) {
	if v < 0 {
		return c.n, errors.New("negative increment")
	}
	c.n += v
	return c.n, nil
}

func ExampleMethod1() {
	loop, err := eventloop.New()
	if err != nil {
		panic(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	bridge, err := anythread.NewBridge(anythread.WithLoop(loop))
	if err != nil {
		panic(err)
	}
	redirector, err := anythread.NewRedirector(bridge)
	if err != nil {
		panic(err)
	}

	counter := &Counter{EventTarget: bridge.NewTarget()}
	add := anythread.Method1(redirector, (*Counter).Add)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := add(counter, 1); err != nil {
				panic(err)
			}
		}()
	}
	wg.Wait()

	n, err := add(counter, 0)
	fmt.Println(n, err)

	n, err = add(counter, -1)
	fmt.Println(n, err)

	var remote *anythread.RemoteError
	fmt.Println(errors.As(err, &remote), remote.Kind)

	//output:
	//10 <nil>
	//10 negative increment
	//true error
}

func ExampleRedirect() {
	loop, err := eventloop.New()
	if err != nil {
		panic(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	bridge, err := anythread.NewBridge(anythread.WithLoop(loop))
	if err != nil {
		panic(err)
	}
	redirector, err := anythread.NewRedirector(bridge)
	if err != nil {
		panic(err)
	}
	counter := &Counter{EventTarget: bridge.NewTarget()}

	add := (*Counter).Add
	if err := anythread.Redirect(redirector, &add); err != nil {
		panic(err)
	}
	fmt.Println(add(counter, 5))

	notMethod := func(int) {}
	fmt.Println(anythread.Redirect(redirector, &notMethod))

	//output:
	//5 <nil>
	//anythread: not a method of a target: first parameter of func(int) does not implement anythread.Target
}
