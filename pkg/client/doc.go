/*
Package client is the HTTP client the trainyard CLI uses to talk to a
running server.

	c := client.NewClient("localhost:8080")
	task, err := c.CreateTask(manager.TaskSpec{Name: "portraits"})
	task, err = c.UploadImages(task.ID, "a.png", "b.png")
	task, err = c.SubmitTask(task.ID)

Every call is bounded by a 30 second timeout. Non-2xx answers come back as
*APIError carrying the status code and the server's error message.
*/
package client
