package logging

type interventionLogEntry struct {
	OperationName string                       `json:"operationName"`
	Category      string                       `json:"category"`
	Properties    interventionLogEntryProperty `json:"properties"`
}

type interventionLogEntryProperty struct {
	ClientIP      string                      `json:"clientIp"`
	RequestURI    string                      `json:"requestUri"`
	Phase         string                      `json:"phase"`
	Status        int                         `json:"status"`
	Action        string                      `json:"action"`
	Details       interventionLogDetailsEntry `json:"details"`
	TransactionID string                      `json:"transactionId"`
}

type interventionLogDetailsEntry struct {
	Message     string `json:"message"`
	RedirectURL string `json:"redirectUrl"`
	Pause       int    `json:"pause"`
}
