package bus

import "strings"

// Endpoint identifiers understood by the platform. A request's Destination is one of these.
const (
	AuthAPI                 = "auth:"
	AuthGetUserForToken     = AuthAPI + "getUserForToken"
	AuthListGroupIDsForUser = AuthAPI + "listGroupIdsForUser"
	AuthGetUserProfile      = AuthAPI + "getUserProfile"
	AuthRegisterHandlers    = AuthAPI + "registerAuthHandlers"

	ConnectorAPI      = "connectors:"
	ConnectorsList    = ConnectorAPI + "getEIMConnectors"
	ConnectorRegister = ConnectorAPI + "registerEIMConnector"

	ServiceMgmtAPI                = "deploymentManagement:"
	ServiceMgmtRegisterLocalApp   = ServiceMgmtAPI + "registerLocalApp"
	ServiceMgmtCompleteDeployment = ServiceMgmtAPI + "completeDeployment"
	ServiceMgmtIsAppEnabled       = ServiceMgmtAPI + "isAppEnabled"
	ServiceMgmtZipDownloadAllowed = ServiceMgmtAPI + "isMobileZipDownloadPermitted"

	MailAPI           = "mail:"
	MailSend          = MailAPI + "sendMail"
	MailSendImportant = MailAPI + "sendMailImmediately"

	WebNotificationsAPI    = "webNotifications:"
	NotificationsSendWeb   = WebNotificationsAPI + "sendToClientsAndUsers"
	NotificationsSeqBounds = WebNotificationsAPI + "getNotificationSeqBounds"
	PushNotificationsAPI   = "pushNotifications:"
	NotificationsSendPush  = PushNotificationsAPI + "sendPushNotification"

	RuntimesAPI = "runtimes:"
	RuntimesGet = RuntimesAPI + "getRuntimes"

	SettingsAPI      = "settings:"
	SettingsAdd      = SettingsAPI + "addSetting"
	SettingsUpdate   = SettingsAPI + "updateSetting"
	SettingsRegister = SettingsAPI + "register"
	SettingsGetAll   = SettingsAPI + "getSettings"
	SettingsGet      = SettingsAPI + "getSetting"
	SettingsRemove   = SettingsAPI + "removeSetting"

	TrustedProviderAPI   = "trustedProviders:"
	TrustedProvidersList = TrustedProviderAPI + "listProviders"
	TrustedProviderGet   = TrustedProviderAPI + "getOrCreate"
)

// EndpointAPI returns the API prefix of an endpoint, e.g. "settings" for "settings:getSettings".
func EndpointAPI(endpoint string) string {
	api, _, _ := strings.Cut(endpoint, ":")
	return api
}

// RoutingKey returns a broker-safe key for e: the request endpoint with ':' replaced by
// '.', or the event type for anything that is not a request.
func RoutingKey(e Event) string {
	if d := e.Destination(); d != "" {
		return strings.ReplaceAll(d, ":", ".")
	}

	return string(e.Type)
}
