// Package model holds the records shared by storage, quota accounting and
// campaign dispatch.
package model

import "time"

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignNew     CampaignStatus = "new"
	CampaignReady   CampaignStatus = "ready"
	CampaignSending CampaignStatus = "sending"
	CampaignDone    CampaignStatus = "done"
	CampaignError   CampaignStatus = "error"
	CampaignPaused  CampaignStatus = "paused"
)

// Terminal reports whether no runner will move the campaign further.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignDone || s == CampaignError || s == CampaignPaused
}

// Campaign is one email send to every subscriber of a list.
type Campaign struct {
	ID         int64
	UID        string
	CustomerID int64
	MailListID int64
	Name       string
	Subject    string
	FromEmail  string
	FromName   string
	ReplyTo    string
	HTML       string
	Plain      string
	Status     CampaignStatus
	LastError  string
	DeliveryAt time.Time
	CreatedAt  time.Time
}

// Plan carries the sending limits a subscription grants.
type Plan struct {
	ID                   int64
	Name                 string
	EmailMax             int64
	SendingQuota         int64
	SendingQuotaTime     int
	SendingQuotaTimeUnit string
	MaxProcess           int
}

// Subscription binds a customer to a plan for a period.
type Subscription struct {
	ID        int64
	Status    string
	StartDate time.Time
	EndDate   time.Time
	Plan      Plan
}

// SubscriptionActive is the status of a usable subscription.
const SubscriptionActive = "active"

// Active reports whether the subscription grants sending at now.
func (s *Subscription) Active(now time.Time) bool {
	if s == nil || s.Status != SubscriptionActive {
		return false
	}
	if now.Before(s.StartDate) {
		return false
	}
	return s.EndDate.IsZero() || now.Before(s.EndDate)
}

// Customer owns lists and campaigns.
type Customer struct {
	ID           int64
	UID          string
	Name         string
	Subscription *Subscription
}

// Sending server types.
const (
	ServerTypeSMTP = "smtp"
	ServerTypeLog  = "log"
)

// ServerActive is the status of a server eligible for delivery.
const ServerActive = "active"

// SendingServer is a delivery endpoint with its own rate limit.
type SendingServer struct {
	ID         int64
	UID        string
	Name       string
	Type       string
	Status     string
	Host       string
	Port       int
	Username   string
	Password   string
	QuotaValue int64
	QuotaBase  int
	QuotaUnit  string
}

// MailList groups subscribers and the servers allowed to deliver to them.
type MailList struct {
	ID                int64
	UID               string
	CustomerID        int64
	Name              string
	FromEmail         string
	FromName          string
	AllSendingServers bool
}

// ServerWeight is a candidate server with its selection fitness.
type ServerWeight struct {
	ServerID int64
	Fitness  int
}

// SubscriberSubscribed marks a subscriber who accepts mail.
const SubscriberSubscribed = "subscribed"

// Subscriber is one recipient on a list.
type Subscriber struct {
	ID         int64
	UID        string
	MailListID int64
	Email      string
	Status     string
	Fields     map[string]string
}

// Delivery outcomes recorded in tracking logs.
const (
	DeliverySent   = "sent"
	DeliveryFailed = "failed"
)

// TrackingLog records one delivery attempt.
type TrackingLog struct {
	ID               int64
	CampaignID       int64
	SubscriberID     int64
	SendingServerID  int64
	CustomerID       int64
	MessageID        string
	RuntimeMessageID string
	Status           string
	Error            string
	CreatedAt        time.Time
}

// QuotaOwner identifies which kind of entity a quota series belongs to.
type QuotaOwner string

const (
	OwnerCustomer QuotaOwner = "customer"
	OwnerServer   QuotaOwner = "server"
)
