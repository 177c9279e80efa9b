package recordbase

// Version is the published SDK version.
// 0.3.0: Breaking - Replace the mutable BeforeSend/AfterSend fields with
// registered hook chains (OnBeforeSend/OnAfterSend) so the auto-refresh
// controller no longer races caller-set hooks.
// 0.2.0: Add BoltAuthStore and AsyncAuthStore persistence variants.
const Version = "0.3.0"
